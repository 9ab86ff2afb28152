package ecsmem

import (
	"sort"

	"github.com/marmos91/archnet/pkg/ecsface"
)

// archetypeSnapshot is the back-buffer for one archetype, captured wholesale
// by FlushSnapshots. fields is keyed by "Component.Field".
type archetypeSnapshot struct {
	entityIDs []ecsface.EntityID
	fields    map[string][]any
}

// tagTracker implements ecsface.Tracker for one marker-component tag. It
// reads and mutates its owning Store's shared tagMembers/snapshots state.
type tagTracker struct {
	tag   string
	store *Store
}

var _ ecsface.Tracker = (*tagTracker)(nil)

// EnableTracking returns the Tracker for tag, creating its membership set
// on first call.
func (s *Store) EnableTracking(tag string) ecsface.Tracker {
	s.mu.Lock()
	if _, ok := s.tagMembers[tag]; !ok {
		s.tagMembers[tag] = make(map[ecsface.EntityID]struct{})
	}
	s.mu.Unlock()
	return &tagTracker{tag: tag, store: s}
}

// FlushChanges diffs the tag's current membership against the set recorded
// at the previous flush and returns the entities that joined or left.
func (t *tagTracker) FlushChanges() ecsface.ChangeSet {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.tagMembers[t.tag]
	curr := make(map[ecsface.EntityID]struct{})
	for id, rec := range s.entities {
		if _, ok := rec.components[t.tag]; ok {
			curr[id] = struct{}{}
		}
	}

	var changes ecsface.ChangeSet
	for id := range curr {
		if _, ok := prev[id]; !ok {
			changes.Created = append(changes.Created, id)
		}
	}
	for id := range prev {
		if _, ok := curr[id]; !ok {
			changes.Destroyed = append(changes.Destroyed, id)
		}
	}

	s.tagMembers[t.tag] = curr
	return changes
}

// FlushSnapshots recomputes the store-wide back buffer from every entity
// carrying any currently-tracked tag, grouped by full component set. It is
// shared across trackers: archnet only ever runs one tracking tag
// ("Networked") per Store, so there is no need to keep per-tag generations.
func (t *tagTracker) FlushSnapshots() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked := make(map[ecsface.EntityID]struct{})
	for id, rec := range s.entities {
		for tag := range s.tagMembers {
			if _, has := rec.components[tag]; has {
				tracked[id] = struct{}{}
				break
			}
		}
	}

	buckets := make(map[componentSet][]*entityRecord)
	for id := range tracked {
		rec, ok := s.entities[id]
		if !ok {
			continue
		}
		set := rec.componentSet()
		buckets[set] = append(buckets[set], rec)
	}

	snapshots := make(map[uint64]*archetypeSnapshot, len(buckets))
	for set, recs := range buckets {
		// ForEach hands out live rows sorted by entity id; the snapshot
		// must use the same order or the differ's index-aligned
		// ids[i] == snapshotIDs[i] check would spuriously fail for every
		// archetype holding more than one entity.
		sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })
		snap := &archetypeSnapshot{
			entityIDs: make([]ecsface.EntityID, len(recs)),
			fields:    make(map[string][]any),
		}
		for i, rec := range recs {
			snap.entityIDs[i] = rec.id
			for compName, fields := range rec.components {
				for fieldName, val := range fields {
					key := compName + "." + fieldName
					if snap.fields[key] == nil {
						snap.fields[key] = make([]any, len(recs))
					}
					snap.fields[key][i] = val
				}
			}
		}
		snapshots[archetypeID(set)] = snap
	}

	s.snapshots = snapshots
}
