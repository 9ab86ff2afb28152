package wire

import (
	"fmt"
	"math"

	"github.com/marmos91/archnet/pkg/bufpool"
	"github.com/marmos91/archnet/pkg/protoerr"
	"github.com/marmos91/archnet/pkg/registry"
)

// writeScalar appends v, which must be the Go type implied by t, to buf.
func writeScalar(buf *bufpool.GrowBuffer, t registry.ScalarType, v any) error {
	switch t {
	case registry.I8:
		val, ok := v.(int8)
		if !ok {
			return fmt.Errorf("wire: expected int8 for %s, got %T", t, v)
		}
		buf.AppendByte(byte(val))
	case registry.U8:
		val, ok := v.(uint8)
		if !ok {
			return fmt.Errorf("wire: expected uint8 for %s, got %T", t, v)
		}
		buf.AppendByte(val)
	case registry.I16:
		val, ok := v.(int16)
		if !ok {
			return fmt.Errorf("wire: expected int16 for %s, got %T", t, v)
		}
		writeU16(buf, uint16(val))
	case registry.U16:
		val, ok := v.(uint16)
		if !ok {
			return fmt.Errorf("wire: expected uint16 for %s, got %T", t, v)
		}
		writeU16(buf, val)
	case registry.I32:
		val, ok := v.(int32)
		if !ok {
			return fmt.Errorf("wire: expected int32 for %s, got %T", t, v)
		}
		writeU32(buf, uint32(val))
	case registry.U32:
		val, ok := v.(uint32)
		if !ok {
			return fmt.Errorf("wire: expected uint32 for %s, got %T", t, v)
		}
		writeU32(buf, val)
	case registry.F32:
		val, ok := v.(float32)
		if !ok {
			return fmt.Errorf("wire: expected float32 for %s, got %T", t, v)
		}
		writeU32(buf, math.Float32bits(val))
	case registry.F64:
		val, ok := v.(float64)
		if !ok {
			return fmt.Errorf("wire: expected float64 for %s, got %T", t, v)
		}
		writeU64(buf, math.Float64bits(val))
	case registry.String:
		val, ok := v.(string)
		if !ok {
			return fmt.Errorf("wire: expected string for %s, got %T", t, v)
		}
		writeU16(buf, uint16(len(val)))
		buf.Append([]byte(val))
	default:
		return fmt.Errorf("wire: unknown scalar type %d", uint8(t))
	}
	return nil
}

func writeU16(buf *bufpool.GrowBuffer, v uint16) {
	buf.Append([]byte{byte(v), byte(v >> 8)})
}

func writeU32(buf *bufpool.GrowBuffer, v uint32) {
	buf.Append([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func writeU64(buf *bufpool.GrowBuffer, v uint64) {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	buf.Append(b)
}

// readScalar decodes one value of type t from data[pos:], returning the
// value as the corresponding Go type, the new cursor, and an error if the
// buffer ends early.
func readScalar(data []byte, pos int, t registry.ScalarType) (any, int, error) {
	need := func(n int) error {
		if pos+n > len(data) {
			return protoerr.NewTruncatedPayloadError(pos+n, len(data))
		}
		return nil
	}

	switch t {
	case registry.I8:
		if err := need(1); err != nil {
			return nil, pos, err
		}
		return int8(data[pos]), pos + 1, nil
	case registry.U8:
		if err := need(1); err != nil {
			return nil, pos, err
		}
		return data[pos], pos + 1, nil
	case registry.I16:
		if err := need(2); err != nil {
			return nil, pos, err
		}
		return int16(readU16(data, pos)), pos + 2, nil
	case registry.U16:
		if err := need(2); err != nil {
			return nil, pos, err
		}
		return readU16(data, pos), pos + 2, nil
	case registry.I32:
		if err := need(4); err != nil {
			return nil, pos, err
		}
		return int32(readU32(data, pos)), pos + 4, nil
	case registry.U32:
		if err := need(4); err != nil {
			return nil, pos, err
		}
		return readU32(data, pos), pos + 4, nil
	case registry.F32:
		if err := need(4); err != nil {
			return nil, pos, err
		}
		return math.Float32frombits(readU32(data, pos)), pos + 4, nil
	case registry.F64:
		if err := need(8); err != nil {
			return nil, pos, err
		}
		return math.Float64frombits(readU64(data, pos)), pos + 8, nil
	case registry.String:
		if err := need(2); err != nil {
			return nil, pos, err
		}
		n := int(readU16(data, pos))
		pos += 2
		if err := need(n); err != nil {
			return nil, pos, err
		}
		s := string(data[pos : pos+n])
		return s, pos + n, nil
	default:
		return nil, pos, fmt.Errorf("wire: unknown scalar type %d", uint8(t))
	}
}

func readU16(data []byte, pos int) uint16 {
	return uint16(data[pos]) | uint16(data[pos+1])<<8
}

func readU32(data []byte, pos int) uint32 {
	return uint32(data[pos]) | uint32(data[pos+1])<<8 | uint32(data[pos+2])<<16 | uint32(data[pos+3])<<24
}

func readU64(data []byte, pos int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(data[pos+i]) << (8 * i)
	}
	return v
}
