// Package ecsmem is a reference in-memory implementation of pkg/ecsface,
// storing each entity's components as plain maps rather than packed
// structure-of-arrays pages. It favors clarity over throughput and exists
// to make internal/differ, internal/clientview, and internal/netserver
// testable without a production archetype engine.
package ecsmem

import (
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/archnet/pkg/ecsface"
)

// componentSet is a record's full component name list, sorted, joined by
// "|". It is both the archetype grouping key and the input to ArchetypeID.
type componentSet string

func makeComponentSet(names map[string]struct{}) componentSet {
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	return componentSet(strings.Join(sorted, "|"))
}

type entityRecord struct {
	id         ecsface.EntityID
	components map[string]map[string]any
}

func (r *entityRecord) componentSet() componentSet {
	names := make(map[string]struct{}, len(r.components))
	for n := range r.components {
		names[n] = struct{}{}
	}
	return makeComponentSet(names)
}

// Store is the reference ECS. It is safe for concurrent use; every
// exported method takes the single mutex for its duration (ForEach
// releases it before invoking its callback), matching the
// coarse-grained locking the in-memory metadata store in the ambient
// stack uses for the same reason: simplicity beats fine-grained locking
// for a reference implementation.
type Store struct {
	mu       sync.RWMutex
	entities map[ecsface.EntityID]*entityRecord
	nextID   ecsface.EntityID

	// tagMembers tracks, per tag-as-marker-component name, the entities
	// that carried it as of the last FlushChanges call for that tag.
	tagMembers map[string]map[ecsface.EntityID]struct{}

	// snapshots is the back buffer captured by the most recent
	// FlushSnapshots call, keyed by archetype id. It is shared across all
	// trackers: the networking core only ever runs one tracker (the
	// "Networked" tag) per Store, so a single global back buffer is
	// enough and avoids tracking per-tag snapshot generations.
	snapshots map[uint64]*archetypeSnapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		entities:   make(map[ecsface.EntityID]*entityRecord),
		nextID:     1,
		tagMembers: make(map[string]map[ecsface.EntityID]struct{}),
		snapshots:  make(map[uint64]*archetypeSnapshot),
	}
}

var _ ecsface.ECS = (*Store)(nil)
