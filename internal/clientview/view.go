// Package clientview computes, for one client, the exact set of NetIds
// that should transition into or out of its local mirror each tick, given
// the server's global changeset and the host-supplied interest set.
package clientview

import "github.com/marmos91/archnet/internal/differ"

// View is one client's persistent session-lifetime state: the set of
// NetIds it currently knows, plus reusable scratch slices for the next
// delta. It is a plain struct, not a mutex-guarded one — per the core's
// single-threaded cooperative tick loop, a View is exclusively owned by
// the one session it belongs to and is never touched concurrently.
type View struct {
	knownEntities map[uint32]struct{}

	delta differ.ClientDelta
}

// New returns an empty View with no known entities.
func New() *View {
	return &View{knownEntities: make(map[uint32]struct{})}
}

// InitKnown seeds the known set from netIDs, used by the server to align a
// freshly (re)connected client's view state with the full-state snapshot
// it was just sent.
func (v *View) InitKnown(netIDs []uint32) {
	v.knownEntities = make(map[uint32]struct{}, len(netIDs))
	for _, n := range netIDs {
		v.knownEntities[n] = struct{}{}
	}
}

// Known reports whether netID is currently in the view's known set.
func (v *View) Known(netID uint32) bool {
	_, ok := v.knownEntities[netID]
	return ok
}

// KnownNetIDs returns every NetId the view currently knows, in unspecified
// order. The returned slice is a fresh copy safe for the caller to retain.
func (v *View) KnownNetIDs() []uint32 {
	out := make([]uint32, 0, len(v.knownEntities))
	for n := range v.knownEntities {
		out = append(out, n)
	}
	return out
}

func (v *View) reset() {
	v.delta.Enters = v.delta.Enters[:0]
	v.delta.Leaves = v.delta.Leaves[:0]
	v.delta.Updates = v.delta.Updates[:0]
	v.delta.Attached = v.delta.Attached[:0]
	v.delta.Detached = v.delta.Detached[:0]
}

// Update computes this client's ClientDelta for one tick, given its
// current interest set and the server's global changeset, applying the
// six transition rules in order (order matters: each rule reads state
// left behind by the ones before it). As a side effect, knownEntities is
// updated so that afterwards knownEntities == (old ∪ enters) − leaves.
//
// The returned ClientDelta aliases the View's scratch slices and is only
// valid until the next call to Update.
func (v *View) Update(interest map[uint32]struct{}, cs *differ.Changeset) *differ.ClientDelta {
	v.reset()

	// Rule 1: destroyed entities the client knew about leave immediately.
	for _, netID := range cs.Destroyed {
		if _, known := v.knownEntities[netID]; known {
			v.delta.Leaves = append(v.delta.Leaves, netID)
			delete(v.knownEntities, netID)
		}
	}

	// Rule 2: newly created entities the client is interested in enter.
	for _, ce := range cs.Created {
		if _, interested := interest[ce.NetID]; interested {
			v.delta.Enters = append(v.delta.Enters, ce.NetID)
			v.knownEntities[ce.NetID] = struct{}{}
		}
	}

	// Rule 3: known entities that fell out of interest (and were not
	// already destroyed this tick) leave. Removals are applied after the
	// scan so the scan itself sees a consistent knownEntities.
	var fellOutOfInterest []uint32
	for netID := range v.knownEntities {
		if _, destroyed := cs.DestroyedSet[netID]; destroyed {
			continue
		}
		if _, stillInterested := interest[netID]; !stillInterested {
			fellOutOfInterest = append(fellOutOfInterest, netID)
		}
	}
	for _, netID := range fellOutOfInterest {
		v.delta.Leaves = append(v.delta.Leaves, netID)
		delete(v.knownEntities, netID)
	}

	// Rule 4: entities newly in interest that the client did not already
	// know, and which are neither created nor destroyed this tick, are a
	// view-enter of an already-existing entity.
	for netID := range interest {
		if _, known := v.knownEntities[netID]; known {
			continue
		}
		if _, created := cs.CreatedSet[netID]; created {
			continue
		}
		if _, destroyed := cs.DestroyedSet[netID]; destroyed {
			continue
		}
		v.delta.Enters = append(v.delta.Enters, netID)
		v.knownEntities[netID] = struct{}{}
	}

	// Rule 5: dirty entities the client knows about (and that did not
	// just enter this tick) get an update.
	enteredThisTick := make(map[uint32]struct{}, len(v.delta.Enters))
	for _, n := range v.delta.Enters {
		enteredThisTick[n] = struct{}{}
	}
	for _, de := range cs.Dirty {
		if _, known := v.knownEntities[de.NetID]; !known {
			continue
		}
		if _, created := cs.CreatedSet[de.NetID]; created {
			continue
		}
		if _, entered := enteredThisTick[de.NetID]; entered {
			continue
		}
		v.delta.Updates = append(v.delta.Updates, de.NetID)
	}

	// Rule 6: attach/detach on known, interested, non-created entities.
	for _, ae := range cs.Attached {
		if _, known := v.knownEntities[ae.NetID]; !known {
			continue
		}
		if _, interested := interest[ae.NetID]; !interested {
			continue
		}
		if _, created := cs.CreatedSet[ae.NetID]; created {
			continue
		}
		v.delta.Attached = append(v.delta.Attached, ae.NetID)
	}
	for _, de := range cs.Detached {
		if _, known := v.knownEntities[de.NetID]; !known {
			continue
		}
		if _, interested := interest[de.NetID]; !interested {
			continue
		}
		if _, created := cs.CreatedSet[de.NetID]; created {
			continue
		}
		v.delta.Detached = append(v.delta.Detached, de.NetID)
	}

	return &v.delta
}
