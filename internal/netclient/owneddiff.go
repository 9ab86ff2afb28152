package netclient

import (
	"sort"

	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/wire"
)

// diffOwned runs the client-side counterpart of the server differ: the
// same index-aligned SoA compare, limited to components declared
// clientOwned and, when an owner component is configured, to rows whose
// ownership field equals this client's id. Entities whose archetype
// changed since the last flush get synthetic full-bitmask updates plus
// attach/detach sections derived from the presence transition.
//
// Called with the client lock held. Returns nil when there is nothing to
// diff (no handshake yet, or no clientOwned components registered).
func (c *Client) diffOwned() *wire.ClientDeltaMessage {
	if !c.hasClientID {
		return nil
	}
	owned := c.clientOwnedComponents()
	if len(owned) == 0 {
		return nil
	}

	pendingArch := make(map[ecsface.EntityID]uint64)
	pendingSet := make(map[ecsface.EntityID]map[uint8]struct{})
	fieldDirty := make(map[ecsface.EntityID][]wire.FieldDelta)

	c.ecs.ForEach([]string{c.tag}, func(view ecsface.ArchetypeView) {
		c.diffOwnedArchetype(view, owned, pendingArch, pendingSet, fieldDirty)
	})

	msg := &wire.ClientDeltaMessage{}
	movedSet := make(map[ecsface.EntityID]struct{})

	// Presence transitions: archetype moves and ownership loss.
	var movedIDs []ecsface.EntityID
	for entityID := range pendingArch {
		if last, ok := c.lastArchetype[entityID]; ok && last != pendingArch[entityID] {
			movedIDs = append(movedIDs, entityID)
		}
	}
	for entityID := range c.lastOwnedSet {
		if _, stillOwned := pendingArch[entityID]; stillOwned {
			continue
		}
		if _, alive := c.entityToNet[entityID]; alive {
			movedIDs = append(movedIDs, entityID)
		}
	}
	sort.Slice(movedIDs, func(i, j int) bool { return movedIDs[i] < movedIDs[j] })

	for _, entityID := range movedIDs {
		movedSet[entityID] = struct{}{}
		netID, ok := c.entityToNet[entityID]
		if !ok {
			continue
		}
		oldSet := c.lastOwnedSet[entityID]
		newSet := pendingSet[entityID]

		var attachedIDs, detachedIDs, survivingIDs []uint8
		for wid := range newSet {
			if _, had := oldSet[wid]; had {
				survivingIDs = append(survivingIDs, wid)
			} else {
				attachedIDs = append(attachedIDs, wid)
			}
		}
		for wid := range oldSet {
			if _, has := newSet[wid]; !has {
				detachedIDs = append(detachedIDs, wid)
			}
		}
		sortWireIDs(attachedIDs)
		sortWireIDs(detachedIDs)
		sortWireIDs(survivingIDs)

		if len(attachedIDs) > 0 {
			msg.Attached = append(msg.Attached, wire.EntityFull{
				NetID:      netID,
				Components: c.readComponents(entityID, attachedIDs),
			})
		}
		if len(detachedIDs) > 0 {
			msg.Detached = append(msg.Detached, wire.EntityDetach{NetID: netID, WireIDs: detachedIDs})
		}
		if len(survivingIDs) > 0 {
			// The back buffer no longer lines up after a move; resend the
			// surviving components in full.
			if full := c.syntheticFullDirty(entityID, survivingIDs); len(full) > 0 {
				msg.Updated = append(msg.Updated, wire.EntityUpdate{NetID: netID, Updates: full})
			}
		}
	}

	var dirtyIDs []ecsface.EntityID
	for entityID := range fieldDirty {
		if _, moved := movedSet[entityID]; moved {
			continue
		}
		dirtyIDs = append(dirtyIDs, entityID)
	}
	sort.Slice(dirtyIDs, func(i, j int) bool { return dirtyIDs[i] < dirtyIDs[j] })
	for _, entityID := range dirtyIDs {
		netID, ok := c.entityToNet[entityID]
		if !ok {
			continue
		}
		msg.Updated = append(msg.Updated, wire.EntityUpdate{NetID: netID, Updates: fieldDirty[entityID]})
	}

	c.lastArchetype = pendingArch
	c.lastOwnedSet = pendingSet

	return msg
}

type presentOwned struct {
	comp     registry.Component
	cols     []ecsface.Column
	snapCols []ecsface.Column
}

func (c *Client) diffOwnedArchetype(
	view ecsface.ArchetypeView,
	owned []registry.Component,
	pendingArch map[ecsface.EntityID]uint64,
	pendingSet map[ecsface.EntityID]map[uint8]struct{},
	fieldDirty map[ecsface.EntityID][]wire.FieldDelta,
) {
	ids := view.EntityIDs()
	if len(ids) == 0 {
		return
	}

	var ownerCol ecsface.Column
	if c.ownerRef != nil {
		col, ok := view.Field(*c.ownerRef)
		if !ok {
			// No owner component in this archetype means none of its rows
			// belong to this client.
			return
		}
		ownerCol = col
	}

	var present []presentOwned
	for _, comp := range owned {
		if !c.ecs.HasComponent(ids[0], comp.Name) {
			continue
		}
		po := presentOwned{
			comp:     comp,
			cols:     make([]ecsface.Column, len(comp.Fields)),
			snapCols: make([]ecsface.Column, len(comp.Fields)),
		}
		for fi, f := range comp.Fields {
			ref := ecsface.FieldRef{Component: comp.Name, Field: f.Name, Type: f.Type}
			if col, ok := view.Field(ref); ok {
				po.cols[fi] = col
			}
			if scol, ok := view.SnapshotField(ref); ok {
				po.snapCols[fi] = scol
			}
		}
		present = append(present, po)
	}
	if len(present) == 0 && ownerCol == nil {
		// Without an ownership column there is no way to attribute these
		// rows to a client, and with no owned components there is nothing
		// to diff either.
		return
	}

	wireSet := make(map[uint8]struct{}, len(present))
	for _, po := range present {
		wireSet[po.comp.WireID] = struct{}{}
	}
	archID := view.ArchetypeID()

	mine := func(i int) bool {
		if ownerCol == nil {
			return true
		}
		owner, ok := asClientID(ownerCol.At(i))
		return ok && owner == c.clientID
	}

	for i, entityID := range ids {
		if !mine(i) {
			continue
		}
		pendingArch[entityID] = archID
		pendingSet[entityID] = wireSet
	}

	snapIDs := view.SnapshotEntityIDs()
	minCount := view.Count()
	if sc := view.SnapshotCount(); sc < minCount {
		minCount = sc
	}

	for i := 0; i < minCount; i++ {
		if ids[i] != snapIDs[i] || !mine(i) {
			continue
		}
		entityID := ids[i]

		for _, po := range present {
			var mask uint16
			var values []any
			for fi := range po.comp.Fields {
				col, scol := po.cols[fi], po.snapCols[fi]
				if col == nil || scol == nil {
					continue
				}
				a, b := col.At(i), scol.At(i)
				if a != b {
					mask |= 1 << uint(fi)
					values = append(values, a)
				}
			}
			if mask != 0 {
				fieldDirty[entityID] = append(fieldDirty[entityID],
					wire.FieldDelta{WireID: po.comp.WireID, FieldMask: mask, Values: values})
			}
		}
	}
}

// clientOwnedComponents returns every registered clientOwned component in
// wire id order.
func (c *Client) clientOwnedComponents() []registry.Component {
	var out []registry.Component
	for _, comp := range c.reg.Components() {
		if comp.ClientOwned {
			out = append(out, comp)
		}
	}
	return out
}

func (c *Client) readComponents(entityID ecsface.EntityID, wireIDs []uint8) []wire.ComponentValue {
	out := make([]wire.ComponentValue, 0, len(wireIDs))
	for _, wid := range wireIDs {
		comp, err := c.reg.ByWireID(wid)
		if err != nil {
			continue
		}
		out = append(out, wire.ComponentValue{WireID: wid, Fields: c.readFields(entityID, comp)})
	}
	return out
}

func (c *Client) readFields(entityID ecsface.EntityID, comp registry.Component) []any {
	fields := make([]any, len(comp.Fields))
	for i, f := range comp.Fields {
		ref := ecsface.FieldRef{Component: comp.Name, Field: f.Name, Type: f.Type}
		if v, ok := c.ecs.Get(entityID, ref); ok {
			fields[i] = v
		}
	}
	return fields
}

func (c *Client) syntheticFullDirty(entityID ecsface.EntityID, wireIDs []uint8) []wire.FieldDelta {
	out := make([]wire.FieldDelta, 0, len(wireIDs))
	for _, wid := range wireIDs {
		comp, err := c.reg.ByWireID(wid)
		if err != nil || len(comp.Fields) == 0 {
			continue
		}
		mask := uint16(1<<uint(len(comp.Fields))) - 1
		out = append(out, wire.FieldDelta{WireID: wid, FieldMask: mask, Values: c.readFields(entityID, comp)})
	}
	return out
}

// rebaselineOwned resets the presence-transition state after a full-state
// rebuild so the recreated entities are not reported as local changes.
// Called with the client lock held, after the tracker flush.
func (c *Client) rebaselineOwned() {
	pendingArch := make(map[ecsface.EntityID]uint64)
	pendingSet := make(map[ecsface.EntityID]map[uint8]struct{})
	fieldDirty := make(map[ecsface.EntityID][]wire.FieldDelta)

	owned := c.clientOwnedComponents()
	if len(owned) > 0 && c.hasClientID {
		c.ecs.ForEach([]string{c.tag}, func(view ecsface.ArchetypeView) {
			c.diffOwnedArchetype(view, owned, pendingArch, pendingSet, fieldDirty)
		})
	}

	c.lastArchetype = pendingArch
	c.lastOwnedSet = pendingSet
}

func sortWireIDs(ids []uint8) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
