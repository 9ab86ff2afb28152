// Package ecsface defines the narrow capability surface the networking
// core consumes from a host ECS. The core never touches archetype storage,
// component schemas, or entity lifecycle directly — it only ever calls
// through this interface, so any archetype engine that implements it can
// be driven by differ.Differ, clientview.View, and netserver.Server.
package ecsface

import "github.com/marmos91/archnet/pkg/registry"

// EntityID identifies an entity within the host ECS. It has no meaning
// across process boundaries; NetID is what travels over the wire.
type EntityID uint64

// FieldRef is a component-typed handle naming one field of one component,
// compatible with the wire's scalar types.
type FieldRef struct {
	Component string
	Field     string
	Type      registry.ScalarType
}

// ComponentInit supplies a component's initial field values by name, used
// both at entity creation and by AddComponent/attach handling.
type ComponentInit struct {
	Name   string
	Fields map[string]any
}

// EntityInit is the full set of components (plus the tracking tag) an
// entity is created with.
type EntityInit struct {
	Components []ComponentInit
	Tag        string
}

// Column is a typed, index-addressable slice of field values for one
// archetype (structure-of-arrays storage). At(i) panics if i is out of
// range, mirroring a direct slice index.
type Column interface {
	Len() int
	At(i int) any
}

// ArchetypeView exposes one archetype's resident rows plus, when tracking
// is enabled for its tag, the matching back-buffer snapshot from the
// previous flush. The differ compares Field against SnapshotField
// index-by-index wherever EntityIDs()[i] == SnapshotEntityIDs()[i].
type ArchetypeView interface {
	ArchetypeID() uint64
	Count() int
	EntityIDs() []EntityID

	Field(ref FieldRef) (Column, bool)

	SnapshotCount() int
	SnapshotEntityIDs() []EntityID
	SnapshotField(ref FieldRef) (Column, bool)
}

// ChangeSet is the result of a Tracker flush: entities that gained or lost
// the tracked tag since the previous flush.
type ChangeSet struct {
	Created   []EntityID
	Destroyed []EntityID
}

// Tracker observes one tag component's attach/detach events across the
// whole ECS between flushes. The networking core uses one Tracker, bound
// to the "Networked" tag, for the lifetime of the server or client.
type Tracker interface {
	FlushChanges() ChangeSet
	FlushSnapshots()
}

// ECS is the complete capability surface the networking core depends on.
// Implementations are free to back it with any archetype storage; pkg/ecsmem
// provides an in-memory reference implementation used by tests and the
// demo harness.
type ECS interface {
	CreateEntity(init EntityInit) EntityID
	DestroyEntity(id EntityID)
	AllEntities() []EntityID

	Get(id EntityID, ref FieldRef) (any, bool)
	Set(id EntityID, ref FieldRef, value any) bool
	HasComponent(id EntityID, component string) bool
	AddComponent(id EntityID, component string, fields map[string]any) bool
	RemoveComponent(id EntityID, component string) bool

	// ForEach invokes fn once per archetype that contains every component
	// in types, in unspecified order.
	ForEach(types []string, fn func(ArchetypeView))

	// EnableTracking returns a Tracker for tag, creating it on first call.
	EnableTracking(tag string) Tracker
}
