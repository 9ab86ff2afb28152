package ecsmem

import "github.com/marmos91/archnet/pkg/ecsface"

// CreateEntity allocates a new entity with the given components, plus an
// empty marker component named init.Tag if non-empty. A tag is just a
// component with no fields; HasComponent(id, tag) is how trackers test
// membership.
func (s *Store) CreateEntity(init ecsface.EntityInit) ecsface.EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	rec := &entityRecord{id: id, components: make(map[string]map[string]any)}
	for _, c := range init.Components {
		fields := make(map[string]any, len(c.Fields))
		for k, v := range c.Fields {
			fields[k] = v
		}
		rec.components[c.Name] = fields
	}
	if init.Tag != "" {
		if _, exists := rec.components[init.Tag]; !exists {
			rec.components[init.Tag] = map[string]any{}
		}
	}

	s.entities[id] = rec
	return id
}

// DestroyEntity removes id from the store. Destroying an unknown id is a
// no-op.
func (s *Store) DestroyEntity(id ecsface.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
}

// AllEntities returns every live entity id in unspecified order.
func (s *Store) AllEntities() []ecsface.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]ecsface.EntityID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	return ids
}

// Get reads one field of one component on id. The bool is false if the
// entity, component, or field does not exist.
func (s *Store) Get(id ecsface.EntityID, ref ecsface.FieldRef) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	fields, ok := rec.components[ref.Component]
	if !ok {
		return nil, false
	}
	v, ok := fields[ref.Field]
	return v, ok
}

// Set writes one field of one component on id, returning false if the
// entity does not carry that component.
func (s *Store) Set(id ecsface.EntityID, ref ecsface.FieldRef, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		return false
	}
	fields, ok := rec.components[ref.Component]
	if !ok {
		return false
	}
	fields[ref.Field] = value
	return true
}

// HasComponent reports whether id currently carries component.
func (s *Store) HasComponent(id ecsface.EntityID, component string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entities[id]
	if !ok {
		return false
	}
	_, ok = rec.components[component]
	return ok
}

// AddComponent attaches component to id with the given field values,
// replacing it if already present. Returns false if id does not exist.
func (s *Store) AddComponent(id ecsface.EntityID, component string, fields map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		return false
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	rec.components[component] = copied
	return true
}

// RemoveComponent detaches component from id. Returns false if id does not
// exist; removing a component id never had is a no-op that returns true.
func (s *Store) RemoveComponent(id ecsface.EntityID, component string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		return false
	}
	delete(rec.components, component)
	return true
}
