package ecsmem

import (
	"hash/fnv"
	"sort"

	"github.com/marmos91/archnet/pkg/ecsface"
)

func archetypeID(set componentSet) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(set))
	return h.Sum64()
}

func containsAll(set map[string]struct{}, types []string) bool {
	for _, t := range types {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// view is a live, read-only window onto one archetype's resident rows plus
// whatever back-buffer snapshot was captured for it at the last
// FlushSnapshots call.
type view struct {
	id       uint64
	records  []*entityRecord // sorted by entity id for determinism
	snapshot *archetypeSnapshot
}

var _ ecsface.ArchetypeView = (*view)(nil)

func (v *view) ArchetypeID() uint64 { return v.id }

func (v *view) Count() int { return len(v.records) }

func (v *view) EntityIDs() []ecsface.EntityID {
	ids := make([]ecsface.EntityID, len(v.records))
	for i, r := range v.records {
		ids[i] = r.id
	}
	return ids
}

func (v *view) Field(ref ecsface.FieldRef) (ecsface.Column, bool) {
	values := make([]any, len(v.records))
	for i, r := range v.records {
		fields, ok := r.components[ref.Component]
		if !ok {
			return nil, false
		}
		val, ok := fields[ref.Field]
		if !ok {
			return nil, false
		}
		values[i] = val
	}
	return newColumn(values), true
}

func (v *view) SnapshotCount() int {
	if v.snapshot == nil {
		return 0
	}
	return len(v.snapshot.entityIDs)
}

func (v *view) SnapshotEntityIDs() []ecsface.EntityID {
	if v.snapshot == nil {
		return nil
	}
	return v.snapshot.entityIDs
}

func (v *view) SnapshotField(ref ecsface.FieldRef) (ecsface.Column, bool) {
	if v.snapshot == nil {
		return nil, false
	}
	key := ref.Component + "." + ref.Field
	values, ok := v.snapshot.fields[key]
	if !ok {
		return nil, false
	}
	return newColumn(values), true
}

// ForEach groups live entities by their full component set and invokes fn
// once per group that is a superset of types.
func (s *Store) ForEach(types []string, fn func(ecsface.ArchetypeView)) {
	s.mu.RLock()

	buckets := make(map[componentSet][]*entityRecord)
	sets := make(map[componentSet]map[string]struct{})
	for _, rec := range s.entities {
		names := make(map[string]struct{}, len(rec.components))
		for n := range rec.components {
			names[n] = struct{}{}
		}
		set := makeComponentSet(names)
		buckets[set] = append(buckets[set], rec)
		sets[set] = names
	}

	type group struct {
		set componentSet
		recs []*entityRecord
	}
	var matched []group
	for set, recs := range buckets {
		if !containsAll(sets[set], types) {
			continue
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })
		matched = append(matched, group{set: set, recs: recs})
	}
	snapshots := s.snapshots
	s.mu.RUnlock()

	for _, g := range matched {
		id := archetypeID(g.set)
		fn(&view{id: id, records: g.recs, snapshot: snapshots[id]})
	}
}
