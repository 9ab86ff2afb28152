package netclient

import (
	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/wire"
)

// applyFull replaces the entire local mirror with the authoritative
// snapshot: every local entity is destroyed, the NetId maps are cleared,
// and each entity in the payload is recreated under its server binding
// with the tracking tag attached.
func (c *Client) applyFull(data []byte) {
	dec := wire.NewDecoder(data, c.reg)
	msg, err := dec.DecodeFull()
	if err != nil {
		// A hash mismatch means the server and client builds disagree on
		// the component schema; there is no recovery.
		logger.Error("full state rejected, closing connection", "error", err)
		_ = c.tr.Close()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.ecs.AllEntities() {
		c.ecs.DestroyEntity(id)
	}
	c.netToEntity = make(map[uint32]ecsface.EntityID, len(msg.Entities))
	c.entityToNet = make(map[ecsface.EntityID]uint32, len(msg.Entities))

	// Deltas buffered before this snapshot arrived describe a world that
	// no longer exists locally; buffered non-protocol messages are kept
	// for the host.
	kept := c.inbox[:0]
	for _, buffered := range c.inbox {
		if len(buffered) > 0 && buffered[0] == wire.MsgDelta {
			continue
		}
		kept = append(kept, buffered)
	}
	c.inbox = kept

	for _, ent := range msg.Entities {
		c.createMirrored(ent)
	}

	// Baseline the diff state so the rebuild itself is not reported as
	// local changes on the next Tick.
	c.tracker.FlushChanges()
	c.tracker.FlushSnapshots()
	c.rebaselineOwned()

	logger.Info("full state applied", "entities", len(msg.Entities))
}

// applyDelta applies one buffered MSG_DELTA. Section order matters:
// destroys run before updates, and detaches before attaches, so a
// same-tick component swap removes the old component before the new one
// lands.
func (c *Client) applyDelta(data []byte) {
	dec := wire.NewDecoder(data, c.reg)
	msg, err := dec.DecodeDelta()
	if err != nil {
		logger.Error("delta rejected, closing connection", "error", err)
		c.mu.Unlock()
		_ = c.tr.Close()
		c.mu.Lock()
		return
	}

	for _, netID := range msg.Destroyed {
		entityID, ok := c.netToEntity[netID]
		if !ok {
			continue
		}
		c.ecs.DestroyEntity(entityID)
		delete(c.netToEntity, netID)
		delete(c.entityToNet, entityID)
		delete(c.lastArchetype, entityID)
		delete(c.lastOwnedSet, entityID)
	}

	for _, ent := range msg.Created {
		if old, ok := c.netToEntity[ent.NetID]; ok {
			// A re-enter of a NetId the mirror already holds replaces the
			// stale entity wholesale.
			c.ecs.DestroyEntity(old)
			delete(c.entityToNet, old)
		}
		c.createMirrored(ent)
	}

	for _, det := range msg.Detached {
		entityID, ok := c.netToEntity[det.NetID]
		if !ok {
			continue
		}
		for _, wid := range det.WireIDs {
			comp, err := c.reg.ByWireID(wid)
			if err != nil {
				continue
			}
			c.ecs.RemoveComponent(entityID, comp.Name)
		}
	}

	for _, att := range msg.Attached {
		entityID, ok := c.netToEntity[att.NetID]
		if !ok {
			continue
		}
		for _, cv := range att.Components {
			comp, err := c.reg.ByWireID(cv.WireID)
			if err != nil {
				continue
			}
			c.ecs.AddComponent(entityID, comp.Name, fieldsByName(comp.Fields, cv.Fields))
		}
	}

	for _, upd := range msg.Updated {
		entityID, ok := c.netToEntity[upd.NetID]
		if !ok {
			continue
		}
		for _, fd := range upd.Updates {
			comp, err := c.reg.ByWireID(fd.WireID)
			if err != nil {
				continue
			}
			vi := 0
			for i, f := range comp.Fields {
				if fd.FieldMask&(1<<uint(i)) == 0 {
					continue
				}
				ref := ecsface.FieldRef{Component: comp.Name, Field: f.Name, Type: f.Type}
				c.ecs.Set(entityID, ref, fd.Values[vi])
				vi++
			}
		}
	}
}

// createMirrored recreates one server entity locally, preserving the NetId
// binding and attaching the tracking tag.
func (c *Client) createMirrored(ent wire.EntityFull) {
	init := ecsface.EntityInit{Tag: c.tag}
	for _, cv := range ent.Components {
		comp, err := c.reg.ByWireID(cv.WireID)
		if err != nil {
			continue
		}
		init.Components = append(init.Components, ecsface.ComponentInit{
			Name:   comp.Name,
			Fields: fieldsByName(comp.Fields, cv.Fields),
		})
	}

	entityID := c.ecs.CreateEntity(init)
	c.netToEntity[ent.NetID] = entityID
	c.entityToNet[entityID] = ent.NetID
}

func fieldsByName(schema []registry.FieldSchema, values []any) map[string]any {
	out := make(map[string]any, len(schema))
	for i, f := range schema {
		if i < len(values) {
			out[f.Name] = values[i]
		}
	}
	return out
}
