package wire

import "github.com/marmos91/archnet/pkg/protoerr"

// maxVarintBytes is the protocol's hard cap on LEB128 length: a NetId fits
// in 32 bits, which never needs more than 5 septets, so anything longer is
// a corrupt stream rather than a legitimately large value.
const maxVarintBytes = 5

// readVarint decodes an unsigned LEB128 varint starting at data[pos],
// returning the value, the new cursor position, and an error if the
// encoding exceeds maxVarintBytes or the buffer ends early.
func readVarint(data []byte, pos int) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		if pos >= len(data) {
			return 0, pos, protoerr.NewTruncatedVarintError()
		}
		b := data[pos]
		pos++
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
	}
	return 0, pos, protoerr.NewTruncatedVarintError()
}
