package wire

import (
	"github.com/marmos91/archnet/pkg/protoerr"
	"github.com/marmos91/archnet/pkg/registry"
)

// Decoder is stateless besides a per-decode cursor; it validates the
// message type byte, registry hash (for full-state), wire ids against the
// registry, and field bitmasks against each component's declared field
// count as it walks the buffer.
type Decoder struct {
	data []byte
	pos  int
	reg  *registry.Registry
}

// NewDecoder returns a Decoder over data, bound to reg for schema lookups.
func NewDecoder(data []byte, reg *registry.Registry) *Decoder {
	return &Decoder{data: data, reg: reg}
}

// PeekMessageType returns the first byte of the buffer without advancing
// the cursor.
func (d *Decoder) PeekMessageType() (byte, error) {
	if len(d.data) == 0 {
		return 0, protoerr.NewTruncatedPayloadError(1, 0)
	}
	return d.data[0], nil
}

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.data) {
		return protoerr.NewTruncatedPayloadError(d.pos+n, len(d.data))
	}
	return nil
}

func (d *Decoder) readU8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *Decoder) readU16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := readU16(d.data, d.pos)
	d.pos += 2
	return v, nil
}

func (d *Decoder) readU32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := readU32(d.data, d.pos)
	d.pos += 4
	return v, nil
}

func (d *Decoder) readVarint() (uint32, error) {
	v, newPos, err := readVarint(d.data, d.pos)
	d.pos = newPos
	return v, err
}

func (d *Decoder) readComponentFull() (ComponentValue, error) {
	wireID, err := d.readU8()
	if err != nil {
		return ComponentValue{}, err
	}
	comp, err := d.reg.ByWireID(wireID)
	if err != nil {
		return ComponentValue{}, err
	}

	fields := make([]any, len(comp.Fields))
	for i, f := range comp.Fields {
		v, newPos, err := readScalar(d.data, d.pos, f.Type)
		if err != nil {
			return ComponentValue{}, err
		}
		d.pos = newPos
		fields[i] = v
	}
	return ComponentValue{WireID: wireID, Fields: fields}, nil
}

func (d *Decoder) readComponentDelta() (FieldDelta, error) {
	wireID, err := d.readU8()
	if err != nil {
		return FieldDelta{}, err
	}
	comp, err := d.reg.ByWireID(wireID)
	if err != nil {
		return FieldDelta{}, err
	}
	mask, err := d.readU16()
	if err != nil {
		return FieldDelta{}, err
	}
	if int(mask)>>len(comp.Fields) != 0 {
		return FieldDelta{}, protoerr.NewBitmaskOverflowError(wireID, int(mask), len(comp.Fields))
	}

	var values []any
	for i := 0; i < len(comp.Fields); i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		v, newPos, err := readScalar(d.data, d.pos, comp.Fields[i].Type)
		if err != nil {
			return FieldDelta{}, err
		}
		d.pos = newPos
		values = append(values, v)
	}
	return FieldDelta{WireID: wireID, FieldMask: mask, Values: values}, nil
}

func (d *Decoder) readEntityFull() (EntityFull, error) {
	netID, err := d.readVarint()
	if err != nil {
		return EntityFull{}, err
	}
	count, err := d.readU8()
	if err != nil {
		return EntityFull{}, err
	}
	comps := make([]ComponentValue, count)
	for i := range comps {
		c, err := d.readComponentFull()
		if err != nil {
			return EntityFull{}, err
		}
		comps[i] = c
	}
	return EntityFull{NetID: netID, Components: comps}, nil
}

func (d *Decoder) readEntityUpdate() (EntityUpdate, error) {
	netID, err := d.readVarint()
	if err != nil {
		return EntityUpdate{}, err
	}
	count, err := d.readU8()
	if err != nil {
		return EntityUpdate{}, err
	}
	updates := make([]FieldDelta, count)
	for i := range updates {
		fd, err := d.readComponentDelta()
		if err != nil {
			return EntityUpdate{}, err
		}
		updates[i] = fd
	}
	return EntityUpdate{NetID: netID, Updates: updates}, nil
}

func (d *Decoder) readEntityDetach() (EntityDetach, error) {
	netID, err := d.readVarint()
	if err != nil {
		return EntityDetach{}, err
	}
	count, err := d.readU8()
	if err != nil {
		return EntityDetach{}, err
	}
	ids := make([]uint8, count)
	for i := range ids {
		id, err := d.readU8()
		if err != nil {
			return EntityDetach{}, err
		}
		ids[i] = id
	}
	return EntityDetach{NetID: netID, WireIDs: ids}, nil
}

// DecodeFull decodes a MSG_FULL message, rejecting a registry hash that
// does not match the bound registry's fingerprint.
func (d *Decoder) DecodeFull() (*FullMessage, error) {
	msgType, err := d.readU8()
	if err != nil {
		return nil, err
	}
	if msgType != MsgFull {
		return nil, protoerr.NewUnknownMessageTypeError(msgType)
	}
	hash, err := d.readU32()
	if err != nil {
		return nil, err
	}
	if hash != d.reg.Fingerprint() {
		return nil, protoerr.NewRegistryHashMismatchError(d.reg.Fingerprint(), hash)
	}
	count, err := d.readU16()
	if err != nil {
		return nil, err
	}
	entities := make([]EntityFull, count)
	for i := range entities {
		ent, err := d.readEntityFull()
		if err != nil {
			return nil, err
		}
		entities[i] = ent
	}
	return &FullMessage{RegistryHash: hash, Entities: entities}, nil
}

// DecodeDelta decodes a MSG_DELTA message.
func (d *Decoder) DecodeDelta() (*DeltaMessage, error) {
	msgType, err := d.readU8()
	if err != nil {
		return nil, err
	}
	if msgType != MsgDelta {
		return nil, protoerr.NewUnknownMessageTypeError(msgType)
	}

	msg := &DeltaMessage{}

	createdCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Created = make([]EntityFull, createdCount)
	for i := range msg.Created {
		if msg.Created[i], err = d.readEntityFull(); err != nil {
			return nil, err
		}
	}

	destroyedCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Destroyed = make([]uint32, destroyedCount)
	for i := range msg.Destroyed {
		if msg.Destroyed[i], err = d.readVarint(); err != nil {
			return nil, err
		}
	}

	updatedCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Updated = make([]EntityUpdate, updatedCount)
	for i := range msg.Updated {
		if msg.Updated[i], err = d.readEntityUpdate(); err != nil {
			return nil, err
		}
	}

	attachedCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Attached = make([]EntityFull, attachedCount)
	for i := range msg.Attached {
		if msg.Attached[i], err = d.readEntityFull(); err != nil {
			return nil, err
		}
	}

	detachedCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Detached = make([]EntityDetach, detachedCount)
	for i := range msg.Detached {
		if msg.Detached[i], err = d.readEntityDetach(); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// DecodeClientDelta decodes a MSG_CLIENT_DELTA message.
func (d *Decoder) DecodeClientDelta() (*ClientDeltaMessage, error) {
	msgType, err := d.readU8()
	if err != nil {
		return nil, err
	}
	if msgType != MsgClientDelta {
		return nil, protoerr.NewUnknownMessageTypeError(msgType)
	}

	msg := &ClientDeltaMessage{}

	updatedCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Updated = make([]EntityUpdate, updatedCount)
	for i := range msg.Updated {
		if msg.Updated[i], err = d.readEntityUpdate(); err != nil {
			return nil, err
		}
	}

	attachedCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Attached = make([]EntityFull, attachedCount)
	for i := range msg.Attached {
		if msg.Attached[i], err = d.readEntityFull(); err != nil {
			return nil, err
		}
	}

	detachedCount, err := d.readU16()
	if err != nil {
		return nil, err
	}
	msg.Detached = make([]EntityDetach, detachedCount)
	for i := range msg.Detached {
		if msg.Detached[i], err = d.readEntityDetach(); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// DecodeReconnect decodes a MSG_RECONNECT message, returning the token
// (0 meaning "new client").
func (d *Decoder) DecodeReconnect() (uint32, error) {
	msgType, err := d.readU8()
	if err != nil {
		return 0, err
	}
	if msgType != MsgReconnect {
		return 0, protoerr.NewUnknownMessageTypeError(msgType)
	}
	return d.readU32()
}

// DecodeClientID decodes a MSG_CLIENT_ID message.
func (d *Decoder) DecodeClientID() (clientID uint16, token uint32, err error) {
	msgType, err := d.readU8()
	if err != nil {
		return 0, 0, err
	}
	if msgType != MsgClientID {
		return 0, 0, protoerr.NewUnknownMessageTypeError(msgType)
	}
	clientID, err = d.readU16()
	if err != nil {
		return 0, 0, err
	}
	token, err = d.readU32()
	if err != nil {
		return 0, 0, err
	}
	return clientID, token, nil
}

// IsRequestFull reports whether data is a bare MSG_REQUEST_FULL message.
func IsRequestFull(data []byte) bool {
	return len(data) >= 1 && data[0] == MsgRequestFull
}
