// Package registry implements the stable mapping from component type to
// wire identifier, field schema and ownership class that both the server
// and every client must agree on byte-for-byte.
package registry

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/marmos91/archnet/pkg/protoerr"
)

// FieldSchema describes one field of a component in registration order.
type FieldSchema struct {
	Name string
	Type ScalarType
}

// ComponentDef is the input to NewRegistry: one entry per component type,
// in the order its wire id should be assigned.
type ComponentDef struct {
	Name        string
	ClientOwned bool
	Fields      []FieldSchema
}

// Component is the registry's resolved view of a ComponentDef, augmented
// with its assigned wire id.
type Component struct {
	WireID      uint8
	Name        string
	ClientOwned bool
	Fields      []FieldSchema
}

// Registry is an ordered, immutable mapping from component name to wire id
// and field schema. The position of a component in the registration list
// passed to NewRegistry is its wire id (0..254). Registries are read-only
// once built, so lookups need no synchronization.
type Registry struct {
	byWireID    []Component
	byName      map[string]uint8
	fingerprint uint32
}

// NewRegistry builds a Registry from an ordered list of component
// definitions. It enforces the wire format's structural limits: at most
// 255 components (one byte of wire id space), at most 16 fields per
// component (one u16 field bitmask), and unique component names. Wire ids
// are assigned sequentially starting at 0, matching the input order.
func NewRegistry(defs []ComponentDef) (*Registry, error) {
	if len(defs) > MaxComponents {
		return nil, protoerr.NewTooManyComponentsError(len(defs))
	}

	r := &Registry{
		byWireID: make([]Component, 0, len(defs)),
		byName:   make(map[string]uint8, len(defs)),
	}

	for i, def := range defs {
		if len(def.Fields) > MaxFieldsPerComponent {
			return nil, protoerr.NewTooManyFieldsError(def.Name, len(def.Fields))
		}
		if _, exists := r.byName[def.Name]; exists {
			return nil, protoerr.NewDuplicateComponentNameError(def.Name)
		}

		wireID := uint8(i)
		r.byWireID = append(r.byWireID, Component{
			WireID:      wireID,
			Name:        def.Name,
			ClientOwned: def.ClientOwned,
			Fields:      append([]FieldSchema(nil), def.Fields...),
		})
		r.byName[def.Name] = wireID
	}

	r.fingerprint = computeFingerprint(r.byWireID)
	return r, nil
}

// computeFingerprint hashes "name:field:type,...C|S;" for every component
// in wire-id order using FNV-1a. This is the exact algorithm mandated by
// the wire format so that server and client builds from the same
// component list always produce the same 32-bit value.
func computeFingerprint(components []Component) uint32 {
	h := fnv.New32a()
	for _, c := range components {
		h.Write([]byte(c.Name))
		h.Write([]byte{':'})
		for i, f := range c.Fields {
			if i > 0 {
				h.Write([]byte{','})
			}
			h.Write([]byte(f.Name))
			h.Write([]byte{':'})
			h.Write([]byte(f.Type.String()))
		}
		if c.ClientOwned {
			h.Write([]byte(",C;"))
		} else {
			h.Write([]byte(",S;"))
		}
	}
	return h.Sum32()
}

// Fingerprint returns the registry's 32-bit schema hash, embedded in
// full-state messages. A mismatch between the value a client sends and the
// value the server computes locally is a fatal protocol error.
func (r *Registry) Fingerprint() uint32 {
	return r.fingerprint
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	return len(r.byWireID)
}

// ByWireID returns the component registered at the given wire id, or an
// error if no component occupies that slot.
func (r *Registry) ByWireID(id uint8) (Component, error) {
	if int(id) >= len(r.byWireID) {
		return Component{}, protoerr.NewUnknownWireIDError(id)
	}
	return r.byWireID[id], nil
}

// ByName returns the component registered under the given name, or an
// error if the name is not present.
func (r *Registry) ByName(name string) (Component, error) {
	id, ok := r.byName[name]
	if !ok {
		return Component{}, fmt.Errorf("registry: component %q not registered", name)
	}
	return r.byWireID[id], nil
}

// Components returns every registered component in wire id order. The
// returned slice is a copy and safe for the caller to retain.
func (r *Registry) Components() []Component {
	out := make([]Component, len(r.byWireID))
	copy(out, r.byWireID)
	return out
}

// Names returns every registered component name in wire id order. The
// returned slice is a copy and safe for the caller to retain.
func (r *Registry) Names() []string {
	names := make([]string, len(r.byWireID))
	for i, c := range r.byWireID {
		names[i] = c.Name
	}
	return names
}

// ClientOwnedNames returns the names of all components flagged clientOwned,
// sorted for deterministic iteration.
func (r *Registry) ClientOwnedNames() []string {
	var names []string
	for _, c := range r.byWireID {
		if c.ClientOwned {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}
