package wire

import (
	"fmt"

	"github.com/marmos91/archnet/pkg/bufpool"
	"github.com/marmos91/archnet/pkg/registry"
)

// Encoder is a stateful byte-buffer writer with a growable backing store
// that doubles on overflow. One Encoder instance is reused every tick;
// call Reset before each new message rather than allocating a fresh one.
type Encoder struct {
	buf *bufpool.GrowBuffer
	reg *registry.Registry
}

// NewEncoder returns an Encoder bound to reg for component schema lookups.
func NewEncoder(reg *registry.Registry) *Encoder {
	return &Encoder{buf: bufpool.NewGrowBuffer(1024), reg: reg}
}

// Reset rewinds the backing buffer to empty without deallocating it.
func (e *Encoder) Reset() {
	e.buf.Reset()
}

// Finish returns the bytes written since the last Reset. The returned
// slice aliases the Encoder's backing array and is only valid until the
// next Reset; callers that need to retain it must copy.
func (e *Encoder) Finish() []byte {
	return e.buf.Bytes()
}

func (e *Encoder) writeU8(v uint8)   { e.buf.AppendByte(v) }
func (e *Encoder) writeU16(v uint16) { writeU16(e.buf, v) }
func (e *Encoder) writeU32(v uint32) { writeU32(e.buf, v) }

// reserveU16 appends a two-byte placeholder and returns its offset for a
// later patchU16, used for section counts that are only known after the
// section body has been written.
func (e *Encoder) reserveU16() int {
	return e.buf.Reserve(2)
}

func (e *Encoder) patchU16(off int, v uint16) {
	b := e.buf.Bytes()
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}
func (e *Encoder) writeVarint(v uint32) {
	var tmp [maxVarintBytes]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			tmp[n] = b | 0x80
			n++
		} else {
			tmp[n] = b
			n++
			break
		}
	}
	e.buf.Append(tmp[:n])
}

func (e *Encoder) writeComponentFull(c ComponentValue) error {
	comp, err := e.reg.ByWireID(c.WireID)
	if err != nil {
		return err
	}
	if len(c.Fields) != len(comp.Fields) {
		return fmt.Errorf("wire: component %q expects %d fields, got %d", comp.Name, len(comp.Fields), len(c.Fields))
	}
	e.writeU8(c.WireID)
	for i, f := range comp.Fields {
		if err := writeScalar(e.buf, f.Type, c.Fields[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeComponentDelta(d FieldDelta) error {
	comp, err := e.reg.ByWireID(d.WireID)
	if err != nil {
		return err
	}
	if int(d.FieldMask)>>len(comp.Fields) != 0 {
		return fmt.Errorf("wire: field mask overflow for component %q", comp.Name)
	}
	e.writeU8(d.WireID)
	e.writeU16(d.FieldMask)

	vi := 0
	for i := 0; i < len(comp.Fields); i++ {
		if d.FieldMask&(1<<uint(i)) == 0 {
			continue
		}
		if vi >= len(d.Values) {
			return fmt.Errorf("wire: field mask for %q sets more bits than values supplied", comp.Name)
		}
		if err := writeScalar(e.buf, comp.Fields[i].Type, d.Values[vi]); err != nil {
			return err
		}
		vi++
	}
	return nil
}

func (e *Encoder) writeEntityFull(ent EntityFull) error {
	e.writeVarint(ent.NetID)
	e.writeU8(uint8(len(ent.Components)))
	for _, c := range ent.Components {
		if err := e.writeComponentFull(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeEntityUpdate(ent EntityUpdate) error {
	e.writeVarint(ent.NetID)
	e.writeU8(uint8(len(ent.Updates)))
	for _, u := range ent.Updates {
		if err := e.writeComponentDelta(u); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeEntityDetach(ent EntityDetach) {
	e.writeVarint(ent.NetID)
	e.writeU8(uint8(len(ent.WireIDs)))
	for _, id := range ent.WireIDs {
		e.writeU8(id)
	}
}

// EncodeEntityFullChunk encodes a single entity's full component state —
// the same shape used for created and attached entries inside MSG_DELTA —
// without any message header or outer count. Used by the differ to
// pre-encode per-entity bytes once and reuse them across clients.
func (e *Encoder) EncodeEntityFullChunk(ent EntityFull) ([]byte, error) {
	e.Reset()
	if err := e.writeEntityFull(ent); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Finish()...), nil
}

// EncodeEntityUpdateChunk encodes a single entity's dirty-field update
// without any message header or outer count.
func (e *Encoder) EncodeEntityUpdateChunk(ent EntityUpdate) ([]byte, error) {
	e.Reset()
	if err := e.writeEntityUpdate(ent); err != nil {
		return nil, err
	}
	return append([]byte(nil), e.Finish()...), nil
}

// EncodeEntityDetachChunk encodes a single entity's detached-component list
// without any message header or outer count.
func (e *Encoder) EncodeEntityDetachChunk(ent EntityDetach) []byte {
	e.Reset()
	e.writeEntityDetach(ent)
	return append([]byte(nil), e.Finish()...)
}

// ComposeDeltaFromChunks assembles a MSG_DELTA buffer from pre-encoded
// per-entity chunks (as produced by the Encode*Chunk helpers above) plus
// the raw destroyed NetId list. It never re-encodes field data, which is
// what lets differ.ComposeFromCache share one entity's bytes across every
// client that needs to see it.
//
// Nil chunks are skipped: each section's count is reserved up front and
// backpatched once the surviving chunks are in, so callers can pass cache
// lookup results straight through without prefiltering.
func (e *Encoder) ComposeDeltaFromChunks(created [][]byte, destroyed []uint32, updated [][]byte, attached [][]byte, detached [][]byte) []byte {
	e.Reset()
	e.writeU8(MsgDelta)

	writeChunkSection := func(chunks [][]byte) {
		off := e.reserveU16()
		n := 0
		for _, chunk := range chunks {
			if chunk == nil {
				continue
			}
			e.buf.Append(chunk)
			n++
		}
		e.patchU16(off, uint16(n))
	}

	writeChunkSection(created)

	e.writeU16(uint16(len(destroyed)))
	for _, id := range destroyed {
		e.writeVarint(id)
	}

	writeChunkSection(updated)
	writeChunkSection(attached)
	writeChunkSection(detached)

	return e.Finish()
}

// EncodeFull writes a MSG_FULL message and returns the finished bytes.
func (e *Encoder) EncodeFull(msg FullMessage) ([]byte, error) {
	e.Reset()
	e.writeU8(MsgFull)
	e.writeU32(e.reg.Fingerprint())
	e.writeU16(uint16(len(msg.Entities)))
	for _, ent := range msg.Entities {
		if err := e.writeEntityFull(ent); err != nil {
			return nil, err
		}
	}
	return e.Finish(), nil
}

// EncodeDelta writes a MSG_DELTA message and returns the finished bytes.
func (e *Encoder) EncodeDelta(msg DeltaMessage) ([]byte, error) {
	e.Reset()
	e.writeU8(MsgDelta)

	e.writeU16(uint16(len(msg.Created)))
	for _, ent := range msg.Created {
		if err := e.writeEntityFull(ent); err != nil {
			return nil, err
		}
	}

	e.writeU16(uint16(len(msg.Destroyed)))
	for _, id := range msg.Destroyed {
		e.writeVarint(id)
	}

	e.writeU16(uint16(len(msg.Updated)))
	for _, ent := range msg.Updated {
		if err := e.writeEntityUpdate(ent); err != nil {
			return nil, err
		}
	}

	e.writeU16(uint16(len(msg.Attached)))
	for _, ent := range msg.Attached {
		if err := e.writeEntityFull(ent); err != nil {
			return nil, err
		}
	}

	e.writeU16(uint16(len(msg.Detached)))
	for _, ent := range msg.Detached {
		e.writeEntityDetach(ent)
	}

	return e.Finish(), nil
}

// EncodeClientDelta writes a MSG_CLIENT_DELTA message and returns the
// finished bytes.
func (e *Encoder) EncodeClientDelta(msg ClientDeltaMessage) ([]byte, error) {
	e.Reset()
	e.writeU8(MsgClientDelta)

	e.writeU16(uint16(len(msg.Updated)))
	for _, ent := range msg.Updated {
		if err := e.writeEntityUpdate(ent); err != nil {
			return nil, err
		}
	}

	e.writeU16(uint16(len(msg.Attached)))
	for _, ent := range msg.Attached {
		if err := e.writeEntityFull(ent); err != nil {
			return nil, err
		}
	}

	e.writeU16(uint16(len(msg.Detached)))
	for _, ent := range msg.Detached {
		e.writeEntityDetach(ent)
	}

	return e.Finish(), nil
}

// EncodeReconnect writes a MSG_RECONNECT message.
func (e *Encoder) EncodeReconnect(token uint32) []byte {
	e.Reset()
	e.writeU8(MsgReconnect)
	e.writeU32(token)
	return e.Finish()
}

// EncodeRequestFull writes a MSG_REQUEST_FULL message.
func (e *Encoder) EncodeRequestFull() []byte {
	e.Reset()
	e.writeU8(MsgRequestFull)
	return e.Finish()
}

// EncodeClientID writes a MSG_CLIENT_ID message.
func (e *Encoder) EncodeClientID(clientID uint16, token uint32) []byte {
	e.Reset()
	e.writeU8(MsgClientID)
	e.writeU16(clientID)
	e.writeU32(token)
	return e.Finish()
}
