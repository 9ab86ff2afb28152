// Package differ implements the snapshot differ: the subsystem that
// detects, once per tick, which networked entities and component fields
// changed since the previous flush, by comparing live SoA columns against
// a back-buffer snapshot maintained through pkg/ecsface.
package differ

import (
	"sort"

	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/wire"
)

// Differ tracks every networked entity's NetId binding and per-entity
// archetype history, and produces one Changeset per ComputeChangeset call.
// A Differ is exclusively owned by the single cooperative tick loop; it
// holds no lock because nothing else ever touches it concurrently.
type Differ struct {
	ecs     ecsface.ECS
	reg     *registry.Registry
	tracker ecsface.Tracker
	tag     string

	nextNetID uint32
	netIDOf   map[ecsface.EntityID]uint32
	entityOf  map[uint32]ecsface.EntityID

	lastArchetype    map[ecsface.EntityID]uint64
	lastComponentSet map[ecsface.EntityID]map[uint8]struct{}

	pendingArchetype    map[ecsface.EntityID]uint64
	pendingComponentSet map[ecsface.EntityID]map[uint8]struct{}

	// scratch is the one Changeset this Differ ever hands out, reset and
	// refilled by each ComputeChangeset call.
	scratch Changeset
}

// New returns a Differ bound to ecs and reg, tracking the given tag
// component (conventionally "Networked") for creation/destruction events.
func New(ecs ecsface.ECS, reg *registry.Registry, tag string) *Differ {
	return &Differ{
		ecs:                 ecs,
		reg:                 reg,
		tracker:             ecs.EnableTracking(tag),
		tag:                 tag,
		nextNetID:           1,
		netIDOf:             make(map[ecsface.EntityID]uint32),
		entityOf:            make(map[uint32]ecsface.EntityID),
		lastArchetype:       make(map[ecsface.EntityID]uint64),
		lastComponentSet:    make(map[ecsface.EntityID]map[uint8]struct{}),
		pendingArchetype:    make(map[ecsface.EntityID]uint64),
		pendingComponentSet: make(map[ecsface.EntityID]map[uint8]struct{}),
		scratch: Changeset{
			CreatedSet:   make(map[uint32]struct{}),
			DestroyedSet: make(map[uint32]struct{}),
		},
	}
}

// EntityNetID returns the stable NetId bound to id, if any.
func (d *Differ) EntityNetID(id ecsface.EntityID) (uint32, bool) {
	v, ok := d.netIDOf[id]
	return v, ok
}

// NetIDToEntity resolves a wire NetId back to the local EntityId that owns
// it, if the binding is still live.
func (d *Differ) NetIDToEntity(netID uint32) (ecsface.EntityID, bool) {
	v, ok := d.entityOf[netID]
	return v, ok
}

func (d *Differ) assignNetID(id ecsface.EntityID) uint32 {
	if existing, ok := d.netIDOf[id]; ok {
		return existing
	}
	netID := d.nextNetID
	d.nextNetID++
	d.netIDOf[id] = netID
	d.entityOf[netID] = id
	return netID
}

// readFullComponents reads every registered component present on id,
// returning full field values in schema order.
func (d *Differ) readFullComponents(id ecsface.EntityID) []wire.ComponentValue {
	var out []wire.ComponentValue
	for _, c := range d.reg.Components() {
		if !d.ecs.HasComponent(id, c.Name) {
			continue
		}
		out = append(out, wire.ComponentValue{WireID: c.WireID, Fields: d.readFields(id, c)})
	}
	return out
}

// readComponentsByWireID reads only the given components on id, in
// ascending wire id order, used for attach entries where only the newly
// attached subset of the entity's components is transmitted.
func (d *Differ) readComponentsByWireID(id ecsface.EntityID, wireIDs []uint8) []wire.ComponentValue {
	out := make([]wire.ComponentValue, 0, len(wireIDs))
	for _, wid := range wireIDs {
		c, err := d.reg.ByWireID(wid)
		if err != nil {
			continue
		}
		out = append(out, wire.ComponentValue{WireID: wid, Fields: d.readFields(id, c)})
	}
	return out
}

func (d *Differ) readFields(id ecsface.EntityID, c registry.Component) []any {
	fields := make([]any, len(c.Fields))
	for i, f := range c.Fields {
		v, ok := d.ecs.Get(id, ecsface.FieldRef{Component: c.Name, Field: f.Name, Type: f.Type})
		if ok {
			fields[i] = v
		}
	}
	return fields
}

// syntheticFullDirty builds a full-bitmask FieldDelta for each of the
// given surviving components on id, used to re-transmit an entity's
// components across an archetype move: the old archetype's back buffer no
// longer corresponds to this entity's new location, so its values must be
// sent in full rather than diffed.
func (d *Differ) syntheticFullDirty(id ecsface.EntityID, wireIDs []uint8) []wire.FieldDelta {
	out := make([]wire.FieldDelta, 0, len(wireIDs))
	for _, wid := range wireIDs {
		c, err := d.reg.ByWireID(wid)
		if err != nil || len(c.Fields) == 0 {
			continue
		}
		mask := uint16(1<<uint(len(c.Fields))) - 1
		out = append(out, wire.FieldDelta{WireID: wid, FieldMask: mask, Values: d.readFields(id, c)})
	}
	return out
}

type presentComponent struct {
	comp     registry.Component
	cols     []ecsface.Column
	snapCols []ecsface.Column
}

// ComputeChangeset is a pure observation: it reads live and snapshot
// columns via pkg/ecsface and returns exactly what changed since the last
// FlushSnapshots, without mutating ECS state or advancing the snapshot.
// May be called at most once per tick, always immediately followed by the
// paired FlushSnapshots call. The returned Changeset is the Differ's
// reused scratch instance and is overwritten by the next call.
func (d *Differ) ComputeChangeset() *Changeset {
	cs := &d.scratch
	cs.reset()

	changes := d.tracker.FlushChanges()

	// Entity ids are allocated monotonically, so sorting pins NetId
	// assignment to creation order regardless of how the tracker iterates
	// its membership sets.
	sort.Slice(changes.Created, func(i, j int) bool { return changes.Created[i] < changes.Created[j] })
	sort.Slice(changes.Destroyed, func(i, j int) bool { return changes.Destroyed[i] < changes.Destroyed[j] })

	for _, id := range changes.Destroyed {
		netID, ok := d.netIDOf[id]
		if !ok {
			continue
		}
		cs.Destroyed = append(cs.Destroyed, netID)
		cs.DestroyedSet[netID] = struct{}{}
		delete(d.netIDOf, id)
		delete(d.entityOf, netID)
		delete(d.lastArchetype, id)
		delete(d.lastComponentSet, id)
	}

	for _, id := range changes.Created {
		netID := d.assignNetID(id)
		cs.Created = append(cs.Created, CreatedEntity{NetID: netID, Components: d.readFullComponents(id)})
		cs.CreatedSet[netID] = struct{}{}
	}

	d.pendingArchetype = make(map[ecsface.EntityID]uint64)
	d.pendingComponentSet = make(map[ecsface.EntityID]map[uint8]struct{})

	d.ecs.ForEach([]string{d.tag}, func(view ecsface.ArchetypeView) {
		d.diffArchetype(view, cs)
	})

	d.detectMoves(cs)

	sortChangeset(cs)
	return cs
}

func (d *Differ) diffArchetype(view ecsface.ArchetypeView, cs *Changeset) {
	ids := view.EntityIDs()
	count := view.Count()
	if count == 0 {
		return
	}

	var present []presentComponent
	for _, c := range d.reg.Components() {
		if !d.ecs.HasComponent(ids[0], c.Name) {
			continue
		}
		pc := presentComponent{comp: c, cols: make([]ecsface.Column, len(c.Fields)), snapCols: make([]ecsface.Column, len(c.Fields))}
		for fi, f := range c.Fields {
			ref := ecsface.FieldRef{Component: c.Name, Field: f.Name, Type: f.Type}
			if col, ok := view.Field(ref); ok {
				pc.cols[fi] = col
			}
			if scol, ok := view.SnapshotField(ref); ok {
				pc.snapCols[fi] = scol
			}
		}
		present = append(present, pc)
	}

	wireIDSet := make(map[uint8]struct{}, len(present))
	for _, pc := range present {
		wireIDSet[pc.comp.WireID] = struct{}{}
	}
	archID := view.ArchetypeID()
	for _, id := range ids {
		d.pendingArchetype[id] = archID
		d.pendingComponentSet[id] = wireIDSet
	}

	snapIDs := view.SnapshotEntityIDs()
	minCount := count
	if sc := view.SnapshotCount(); sc < minCount {
		minCount = sc
	}

	for i := 0; i < minCount; i++ {
		if ids[i] != snapIDs[i] {
			// Swap-remove hazard: this index was reshaped since the last
			// flush. Handled entirely by create/destroy/attach/detach,
			// never by field diffing.
			continue
		}
		entityID := ids[i]
		netID, ok := d.netIDOf[entityID]
		if !ok {
			continue
		}
		if _, created := cs.CreatedSet[netID]; created {
			continue
		}

		var updates []wire.FieldDelta
		for _, pc := range present {
			var mask uint16
			var values []any
			for fi := range pc.comp.Fields {
				col, scol := pc.cols[fi], pc.snapCols[fi]
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
				updates = append(updates, wire.FieldDelta{WireID: pc.comp.WireID, FieldMask: mask, Values: values})
			}
		}
		if len(updates) > 0 {
			cs.Dirty = append(cs.Dirty, DirtyEntity{NetID: netID, Updates: updates})
		}
	}
}

// detectMoves finds every tracked entity whose archetype changed since the
// last flush (and which is neither newly created nor destroyed this tick)
// and derives its attached/detached component lists plus a synthetic
// full-bitmask dirty entry for the components that survived the move.
func (d *Differ) detectMoves(cs *Changeset) {
	type moved struct {
		entityID ecsface.EntityID
		netID    uint32
	}
	var movedEntities []moved
	for entityID, netID := range d.netIDOf {
		if _, created := cs.CreatedSet[netID]; created {
			continue
		}
		newArch, hasNew := d.pendingArchetype[entityID]
		if !hasNew {
			continue
		}
		oldArch, hadOld := d.lastArchetype[entityID]
		if !hadOld || oldArch == newArch {
			continue
		}
		movedEntities = append(movedEntities, moved{entityID: entityID, netID: netID})
	}
	sort.Slice(movedEntities, func(i, j int) bool { return movedEntities[i].netID < movedEntities[j].netID })

	for _, m := range movedEntities {
		oldSet := d.lastComponentSet[m.entityID]
		newSet := d.pendingComponentSet[m.entityID]

		var attachedIDs, detachedIDs, survivingIDs []uint8
		for wid := range newSet {
			if _, ok := oldSet[wid]; ok {
				survivingIDs = append(survivingIDs, wid)
			} else {
				attachedIDs = append(attachedIDs, wid)
			}
		}
		for wid := range oldSet {
			if _, ok := newSet[wid]; !ok {
				detachedIDs = append(detachedIDs, wid)
			}
		}
		sort.Slice(attachedIDs, func(i, j int) bool { return attachedIDs[i] < attachedIDs[j] })
		sort.Slice(detachedIDs, func(i, j int) bool { return detachedIDs[i] < detachedIDs[j] })
		sort.Slice(survivingIDs, func(i, j int) bool { return survivingIDs[i] < survivingIDs[j] })

		if len(attachedIDs) > 0 {
			cs.Attached = append(cs.Attached, AttachedEntity{
				NetID:      m.netID,
				Components: d.readComponentsByWireID(m.entityID, attachedIDs),
			})
		}
		if len(detachedIDs) > 0 {
			cs.Detached = append(cs.Detached, DetachedEntity{NetID: m.netID, WireIDs: detachedIDs})
		}
		if len(survivingIDs) > 0 {
			if dirty := d.syntheticFullDirty(m.entityID, survivingIDs); len(dirty) > 0 {
				cs.Dirty = append(cs.Dirty, DirtyEntity{NetID: m.netID, Updates: dirty})
			}
		}
	}
}

func sortChangeset(cs *Changeset) {
	sort.Slice(cs.Created, func(i, j int) bool { return cs.Created[i].NetID < cs.Created[j].NetID })
	sort.Slice(cs.Destroyed, func(i, j int) bool { return cs.Destroyed[i] < cs.Destroyed[j] })
	sort.Slice(cs.Dirty, func(i, j int) bool { return cs.Dirty[i].NetID < cs.Dirty[j].NetID })
	sort.Slice(cs.Attached, func(i, j int) bool { return cs.Attached[i].NetID < cs.Attached[j].NetID })
	sort.Slice(cs.Detached, func(i, j int) bool { return cs.Detached[i].NetID < cs.Detached[j].NetID })
}

// FlushSnapshots copies every tracked front column into its back column
// (delegated to the ecsface Tracker) and commits this tick's archetype and
// component-set bookkeeping so the next ComputeChangeset can detect moves
// relative to it. Idempotent with respect to consecutive calls without an
// intervening ECS mutation.
func (d *Differ) FlushSnapshots() {
	d.tracker.FlushSnapshots()
	for id, arch := range d.pendingArchetype {
		d.lastArchetype[id] = arch
	}
	for id, set := range d.pendingComponentSet {
		d.lastComponentSet[id] = set
	}
}

// LiveNetIDs returns every NetId currently bound to a live entity, in
// ascending order. The server uses it to seed a freshly connected client's
// view state alongside the full-state snapshot.
func (d *Differ) LiveNetIDs() []uint32 {
	out := make([]uint32, 0, len(d.entityOf))
	for netID := range d.entityOf {
		out = append(out, netID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FullState reads every live entity's complete component state, in
// ascending NetId order, ready to be encoded as a MSG_FULL. Entities that
// gained the tracked tag since the last ComputeChangeset have no NetId yet
// and are picked up as created entries on the next tick instead.
func (d *Differ) FullState() []wire.EntityFull {
	out := make([]wire.EntityFull, 0, len(d.entityOf))
	for _, netID := range d.LiveNetIDs() {
		entityID := d.entityOf[netID]
		out = append(out, wire.EntityFull{NetID: netID, Components: d.readFullComponents(entityID)})
	}
	return out
}

// DiffAndEncode computes a changeset, encodes it as a MSG_DELTA with no
// interest filtering (every change goes to every recipient), flushes
// snapshots, and returns the encoded buffer. Used by NetServer's broadcast
// (no-filter) tick mode.
func (d *Differ) DiffAndEncode(enc *wire.Encoder) ([]byte, error) {
	cs := d.ComputeChangeset()
	msg := wire.DeltaMessage{
		Created:   make([]wire.EntityFull, len(cs.Created)),
		Destroyed: cs.Destroyed,
		Updated:   make([]wire.EntityUpdate, len(cs.Dirty)),
		Attached:  make([]wire.EntityFull, len(cs.Attached)),
		Detached:  make([]wire.EntityDetach, len(cs.Detached)),
	}
	for i, c := range cs.Created {
		msg.Created[i] = wire.EntityFull{NetID: c.NetID, Components: c.Components}
	}
	for i, u := range cs.Dirty {
		msg.Updated[i] = wire.EntityUpdate{NetID: u.NetID, Updates: u.Updates}
	}
	for i, a := range cs.Attached {
		msg.Attached[i] = wire.EntityFull{NetID: a.NetID, Components: a.Components}
	}
	for i, det := range cs.Detached {
		msg.Detached[i] = wire.EntityDetach{NetID: det.NetID, WireIDs: det.WireIDs}
	}

	buf, err := enc.EncodeDelta(msg)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), buf...)
	d.FlushSnapshots()
	return out, nil
}
