// Package wire implements the bit-exact binary protocol: little-endian
// scalars, LEB128 varint entity identifiers, per-field bitmasks, and the
// six message shapes exchanged between NetServer and NetClient.
package wire

// Message type discriminators. These are the first byte of every message
// and must never be renumbered once shipped.
const (
	MsgFull         byte = 0x01
	MsgDelta        byte = 0x02
	MsgClientDelta  byte = 0x03
	MsgReconnect    byte = 0x04
	MsgRequestFull  byte = 0x05
	MsgClientID     byte = 0xFF
)

// ComponentValue is one component's full field values, in schema order,
// as they appear in MSG_FULL entity entries and in the created/attached
// sections of MSG_DELTA. Each element of Fields must match the Go type
// implied by the component's declared ScalarType (int8/int16/int32,
// uint8/uint16/uint32, float32, float64, or string).
type ComponentValue struct {
	WireID uint8
	Fields []any
}

// FieldDelta is one component's changed field values only, alongside the
// bitmask marking which declared fields are present, as used in the
// updated sections of MSG_DELTA and MSG_CLIENT_DELTA. Values holds one
// entry per set bit in FieldMask, in ascending field index order.
type FieldDelta struct {
	WireID    uint8
	FieldMask uint16
	Values    []any
}

// EntityFull is one entity's complete component set, used for
// created/attached entity entries.
type EntityFull struct {
	NetID      uint32
	Components []ComponentValue
}

// EntityUpdate is one entity's partial component updates.
type EntityUpdate struct {
	NetID   uint32
	Updates []FieldDelta
}

// EntityDetach is one entity's removed component list (wire ids only).
type EntityDetach struct {
	NetID   uint32
	WireIDs []uint8
}

// FullMessage is MSG_FULL: the complete authoritative snapshot sent on
// connect, reconnect, and full resync.
type FullMessage struct {
	RegistryHash uint32
	Entities     []EntityFull
}

// DeltaMessage is MSG_DELTA: the per-tick server-to-client changeset.
type DeltaMessage struct {
	Created   []EntityFull
	Destroyed []uint32
	Updated   []EntityUpdate
	Attached  []EntityFull
	Detached  []EntityDetach
}

// IsEmpty reports whether the message carries no change at all, so the
// caller can skip sending a header-only delta.
func (m *DeltaMessage) IsEmpty() bool {
	return len(m.Created) == 0 && len(m.Destroyed) == 0 && len(m.Updated) == 0 &&
		len(m.Attached) == 0 && len(m.Detached) == 0
}

// ClientDeltaMessage is MSG_CLIENT_DELTA: the per-frame client-to-server
// owned-component changeset.
type ClientDeltaMessage struct {
	Updated  []EntityUpdate
	Attached []EntityFull
	Detached []EntityDetach
}

// IsEmpty reports whether the message carries no change; an empty client
// delta is never put on the wire.
func (m *ClientDeltaMessage) IsEmpty() bool {
	return len(m.Updated) == 0 && len(m.Attached) == 0 && len(m.Detached) == 0
}
