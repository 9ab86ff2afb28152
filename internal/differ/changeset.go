package differ

import "github.com/marmos91/archnet/pkg/wire"

// CreatedEntity is one entity that became networked this tick, carrying its
// complete component state in schema order.
type CreatedEntity struct {
	NetID      uint32
	Components []wire.ComponentValue
}

// DirtyEntity is one already-known entity with at least one changed field,
// carrying only the changed fields per component.
type DirtyEntity struct {
	NetID   uint32
	Updates []wire.FieldDelta
}

// AttachedEntity is one already-known entity that gained components this
// tick, carrying the full field values of only the newly attached set.
type AttachedEntity struct {
	NetID      uint32
	Components []wire.ComponentValue
}

// DetachedEntity is one already-known entity that lost components this
// tick, carrying only the removed wire ids.
type DetachedEntity struct {
	NetID   uint32
	WireIDs []uint8
}

// ClientDelta is one client's per-tick transition set, produced by a
// clientview.View against a Changeset and consumed by ComposeFromCache. An
// entry in Enters always corresponds to a NetId whose full component state
// was pre-encoded (either because it is newly created, or because the
// server pre-encoded it as a view-enter of an already-existing entity);
// Updates, Attached and Detached reference entities the client already
// knows about.
type ClientDelta struct {
	Enters   []uint32
	Leaves   []uint32
	Updates  []uint32
	Attached []uint32
	Detached []uint32
}

// IsEmpty reports whether the delta carries no transition at all, letting
// the server skip sending (and skip the dedup grouping machinery) for a
// client with nothing new to learn this tick.
func (d *ClientDelta) IsEmpty() bool {
	return len(d.Enters) == 0 && len(d.Leaves) == 0 && len(d.Updates) == 0 &&
		len(d.Attached) == 0 && len(d.Detached) == 0
}

// Changeset is the complete set of net-visible mutations observed by one
// ComputeChangeset call. It is ephemeral: the Differ owns one Changeset for
// its lifetime and hands the same instance back from every
// ComputeChangeset call with its scratch slices truncated and refilled, so
// callers must treat it as valid only until the next
// ComputeChangeset/FlushSnapshots pair.
type Changeset struct {
	Created   []CreatedEntity
	Destroyed []uint32
	Dirty     []DirtyEntity
	Attached  []AttachedEntity
	Detached  []DetachedEntity

	CreatedSet   map[uint32]struct{}
	DestroyedSet map[uint32]struct{}
}

// IsEmpty reports whether the changeset carries no change at all.
func (c *Changeset) IsEmpty() bool {
	return len(c.Created) == 0 && len(c.Destroyed) == 0 && len(c.Dirty) == 0 &&
		len(c.Attached) == 0 && len(c.Detached) == 0
}

// reset truncates the scratch slices to length 0 (keeping their backing
// arrays) and empties the lookup sets, readying the same allocation for
// the next tick.
func (c *Changeset) reset() {
	c.Created = c.Created[:0]
	c.Destroyed = c.Destroyed[:0]
	c.Dirty = c.Dirty[:0]
	c.Attached = c.Attached[:0]
	c.Detached = c.Detached[:0]
	clear(c.CreatedSet)
	clear(c.DestroyedSet)
}
