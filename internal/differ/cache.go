package differ

import "github.com/marmos91/archnet/pkg/wire"

// Cache holds per-entity pre-encoded byte slices keyed by NetId, produced
// by PreEncodeChangeset and consumed by ComposeFromCache. Encoding each
// entity once and reusing its bytes across every client that needs to see
// it is what makes broadcasting to a large group of clients with
// identical deltas cheap.
type Cache struct {
	full   map[uint32][]byte
	update map[uint32][]byte
	attach map[uint32][]byte
	detach map[uint32][]byte
}

func newCache() *Cache {
	return &Cache{
		full:   make(map[uint32][]byte),
		update: make(map[uint32][]byte),
		attach: make(map[uint32][]byte),
		detach: make(map[uint32][]byte),
	}
}

// PreEncodeChangeset pre-serializes per-entity byte slices for every
// created entity and every member of extraEnterNetIDs (NetIds that are
// view-enters of already-existing entities, not present in cs.Created, and
// therefore need their full state read fresh from the ECS), plus a
// per-entity fragment for every dirty, attached and detached entry. No
// output buffer is emitted; the cache is purely a lookup table for
// ComposeFromCache.
func (d *Differ) PreEncodeChangeset(enc *wire.Encoder, cs *Changeset, extraEnterNetIDs []uint32) (*Cache, error) {
	cache := newCache()

	for _, ce := range cs.Created {
		b, err := enc.EncodeEntityFullChunk(wire.EntityFull{NetID: ce.NetID, Components: ce.Components})
		if err != nil {
			return nil, err
		}
		cache.full[ce.NetID] = b
	}

	for _, netID := range extraEnterNetIDs {
		if _, already := cache.full[netID]; already {
			continue
		}
		entityID, ok := d.entityOf[netID]
		if !ok {
			continue
		}
		b, err := enc.EncodeEntityFullChunk(wire.EntityFull{NetID: netID, Components: d.readFullComponents(entityID)})
		if err != nil {
			return nil, err
		}
		cache.full[netID] = b
	}

	for _, de := range cs.Dirty {
		b, err := enc.EncodeEntityUpdateChunk(wire.EntityUpdate{NetID: de.NetID, Updates: de.Updates})
		if err != nil {
			return nil, err
		}
		cache.update[de.NetID] = b
	}

	for _, ae := range cs.Attached {
		b, err := enc.EncodeEntityFullChunk(wire.EntityFull{NetID: ae.NetID, Components: ae.Components})
		if err != nil {
			return nil, err
		}
		cache.attach[ae.NetID] = b
	}

	for _, det := range cs.Detached {
		cache.detach[det.NetID] = enc.EncodeEntityDetachChunk(wire.EntityDetach{NetID: det.NetID, WireIDs: det.WireIDs})
	}

	return cache, nil
}

// ComposeFromCache produces a MSG_DELTA buffer for one client by copying
// the pre-encoded slices referenced by delta. The returned buffer aliases
// the Encoder's backing array (per Encoder.Finish's contract) and remains
// valid only until the next encode call — callers composing for multiple
// groups in a row must copy each group's buffer out before composing the
// next one.
func (d *Differ) ComposeFromCache(enc *wire.Encoder, cache *Cache, delta *ClientDelta) []byte {
	// A missing lookup yields a nil chunk, which the composer skips and
	// leaves out of the backpatched section count.
	lookup := func(table map[uint32][]byte, netIDs []uint32) [][]byte {
		chunks := make([][]byte, len(netIDs))
		for i, n := range netIDs {
			chunks[i] = table[n]
		}
		return chunks
	}

	return enc.ComposeDeltaFromChunks(
		lookup(cache.full, delta.Enters),
		delta.Leaves,
		lookup(cache.update, delta.Updates),
		lookup(cache.attach, delta.Attached),
		lookup(cache.detach, delta.Detached),
	)
}
