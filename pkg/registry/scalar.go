package registry

import "fmt"

// ScalarType is the closed set of field types the wire protocol can encode.
// The names returned by String are part of the on-wire schema fingerprint,
// so they must never change once shipped.
type ScalarType uint8

const (
	I8 ScalarType = iota
	I16
	I32
	U8
	U16
	U32
	F32
	F64
	String
)

// MaxFieldsPerComponent is the u16 bitmask width: a component can declare at
// most this many fields.
const MaxFieldsPerComponent = 16

// MaxComponents bounds the wire id space to a single byte.
const MaxComponents = 255

func (s ScalarType) String() string {
	switch s {
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case String:
		return "string"
	default:
		return fmt.Sprintf("scalar(%d)", uint8(s))
	}
}

// FixedSize returns the encoded byte width for fixed-width scalar types, and
// ok=false for String, whose width is data-dependent.
func (s ScalarType) FixedSize() (size int, ok bool) {
	switch s {
	case I8, U8:
		return 1, true
	case I16, U16:
		return 2, true
	case I32, U32, F32:
		return 4, true
	case F64:
		return 8, true
	default:
		return 0, false
	}
}
