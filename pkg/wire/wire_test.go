package wire

import (
	"testing"

	"github.com/marmos91/archnet/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewRegistry([]registry.ComponentDef{
		{
			Name: "Position",
			Fields: []registry.FieldSchema{
				{Name: "x", Type: registry.F32},
				{Name: "y", Type: registry.F32},
			},
		},
		{
			Name:        "Input",
			ClientOwned: true,
			Fields: []registry.FieldSchema{
				{Name: "buttons", Type: registry.U32},
			},
		},
		{
			Name: "Name",
			Fields: []registry.FieldSchema{
				{Name: "value", Type: registry.String},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func TestEncodeDecodeFullRoundTrips(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	msg := FullMessage{
		RegistryHash: reg.Fingerprint(),
		Entities: []EntityFull{
			{
				NetID: 1,
				Components: []ComponentValue{
					{WireID: 0, Fields: []any{float32(1.5), float32(-2.5)}},
					{WireID: 2, Fields: []any{"hero"}},
				},
			},
			{
				NetID: 300, // exercises multi-byte varint
				Components: []ComponentValue{
					{WireID: 1, Fields: []any{uint32(0xF00D)}},
				},
			},
		},
	}

	data, err := enc.EncodeFull(msg)
	require.NoError(t, err)
	assert.Equal(t, MsgFull, data[0])

	dec := NewDecoder(data, reg)
	got, err := dec.DecodeFull()
	require.NoError(t, err)

	assert.Equal(t, reg.Fingerprint(), got.RegistryHash)
	require.Len(t, got.Entities, 2)
	assert.Equal(t, uint32(1), got.Entities[0].NetID)
	assert.Equal(t, float32(1.5), got.Entities[0].Components[0].Fields[0])
	assert.Equal(t, "hero", got.Entities[0].Components[1].Fields[0])
	assert.Equal(t, uint32(300), got.Entities[1].NetID)
	assert.Equal(t, uint32(0xF00D), got.Entities[1].Components[0].Fields[0])
}

func TestDecodeFullRejectsHashMismatch(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)
	data, err := enc.EncodeFull(FullMessage{RegistryHash: reg.Fingerprint()})
	require.NoError(t, err)

	// Corrupt the registry hash field (bytes 1..4).
	data[1] ^= 0xFF

	dec := NewDecoder(data, reg)
	_, err = dec.DecodeFull()
	require.Error(t, err)
}

func TestEncodeDecodeDeltaRoundTrips(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	msg := DeltaMessage{
		Created: []EntityFull{
			{NetID: 5, Components: []ComponentValue{{WireID: 0, Fields: []any{float32(0), float32(0)}}}},
		},
		Destroyed: []uint32{9},
		Updated: []EntityUpdate{
			{NetID: 5, Updates: []FieldDelta{
				{WireID: 0, FieldMask: 0b10, Values: []any{float32(42)}},
			}},
		},
		Attached: []EntityFull{
			{NetID: 7, Components: []ComponentValue{{WireID: 2, Fields: []any{"attached"}}}},
		},
		Detached: []EntityDetach{
			{NetID: 7, WireIDs: []uint8{1}},
		},
	}

	data, err := enc.EncodeDelta(msg)
	require.NoError(t, err)

	dec := NewDecoder(data, reg)
	got, err := dec.DecodeDelta()
	require.NoError(t, err)

	assert.Equal(t, msg.Destroyed, got.Destroyed)
	require.Len(t, got.Updated, 1)
	assert.Equal(t, uint16(0b10), got.Updated[0].Updates[0].FieldMask)
	assert.Equal(t, []any{float32(42)}, got.Updated[0].Updates[0].Values)
	require.Len(t, got.Detached, 1)
	assert.Equal(t, uint8(1), got.Detached[0].WireIDs[0])
}

// Nil entries in a chunk section are left out of the backpatched count, so
// cache-miss lookups can flow into the composer untouched.
func TestComposeDeltaFromChunksSkipsNilChunks(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	full, err := enc.EncodeEntityFullChunk(EntityFull{
		NetID:      3,
		Components: []ComponentValue{{WireID: 0, Fields: []any{float32(1), float32(2)}}},
	})
	require.NoError(t, err)
	update, err := enc.EncodeEntityUpdateChunk(EntityUpdate{
		NetID:   4,
		Updates: []FieldDelta{{WireID: 0, FieldMask: 0b01, Values: []any{float32(8)}}},
	})
	require.NoError(t, err)

	data := enc.ComposeDeltaFromChunks(
		[][]byte{nil, full, nil},
		[]uint32{9},
		[][]byte{update, nil},
		[][]byte{nil},
		nil,
	)

	dec := NewDecoder(data, reg)
	got, err := dec.DecodeDelta()
	require.NoError(t, err)

	require.Len(t, got.Created, 1)
	assert.Equal(t, uint32(3), got.Created[0].NetID)
	assert.Equal(t, []uint32{9}, got.Destroyed)
	require.Len(t, got.Updated, 1)
	assert.Equal(t, uint32(4), got.Updated[0].NetID)
	assert.Empty(t, got.Attached)
	assert.Empty(t, got.Detached)
}

func TestDeltaIsEmpty(t *testing.T) {
	msg := &DeltaMessage{}
	assert.True(t, msg.IsEmpty())
	msg.Destroyed = []uint32{1}
	assert.False(t, msg.IsEmpty())
}

func TestEncodeDecodeClientDeltaRoundTrips(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	msg := ClientDeltaMessage{
		Updated: []EntityUpdate{
			{NetID: 3, Updates: []FieldDelta{{WireID: 1, FieldMask: 1, Values: []any{uint32(7)}}}},
		},
	}

	data, err := enc.EncodeClientDelta(msg)
	require.NoError(t, err)
	assert.Equal(t, MsgClientDelta, data[0])

	dec := NewDecoder(data, reg)
	got, err := dec.DecodeClientDelta()
	require.NoError(t, err)
	require.Len(t, got.Updated, 1)
	assert.Equal(t, uint32(7), got.Updated[0].Updates[0].Values[0])
}

func TestEncodeDecodeHandshakeMessages(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	data := enc.EncodeReconnect(12345)
	dec := NewDecoder(data, reg)
	token, err := dec.DecodeReconnect()
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), token)

	data = enc.EncodeClientID(42, 999)
	dec = NewDecoder(data, reg)
	clientID, token, err := dec.DecodeClientID()
	require.NoError(t, err)
	assert.Equal(t, uint16(42), clientID)
	assert.Equal(t, uint32(999), token)

	data = enc.EncodeRequestFull()
	assert.True(t, IsRequestFull(data))
}

func TestDecodeRejectsUnknownWireID(t *testing.T) {
	reg := testRegistry(t)
	enc := NewEncoder(reg)

	data, err := enc.EncodeFull(FullMessage{RegistryHash: reg.Fingerprint()})
	require.NoError(t, err)

	// Append a bogus entity with an unknown wire id and bump entity count.
	data[5] = 1 // entityCount low byte -> 1
	data = append(data, 1, 1, 99) // varint netId=1, componentCount=1, wireId=99

	dec := NewDecoder(data, reg)
	_, err = dec.DecodeFull()
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	reg := testRegistry(t)
	dec := NewDecoder([]byte{MsgReconnect, 0x01}, reg)
	_, err := dec.DecodeReconnect()
	require.Error(t, err)
}

func TestDecodeRejectsBitmaskOverflow(t *testing.T) {
	reg := testRegistry(t)

	// Hand-built MSG_DELTA with createdCount=destroyedCount=0, then a
	// single updated entity whose field mask overflows the Input
	// component's one declared field.
	data := []byte{
		MsgDelta,
		0, 0, // createdCount
		0, 0, // destroyedCount
		1, 0, // updatedEntityCount = 1
		1,          // netId varint
		1,          // componentCount = 1
		1,          // wireId = Input
		0xFF, 0xFF, // fieldMask far beyond 1 declared field
	}

	dec := NewDecoder(data, reg)
	_, err := dec.DecodeDelta()
	require.Error(t, err)
}
