package httpstream

import (
	"encoding/binary"
	"errors"
)

// ErrFragmentedMP4 is returned when an object's metadata prefix contains a
// moof box. Fragmented-MP4 rewriting is out of scope for the core rewrite
// engine (it silently drops moof/traf content rather than relocating it),
// so the server rejects these objects up front with a clear error instead
// of serving a metadata-only stream with no frames after the trim point.
var ErrFragmentedMP4 = errors.New("httpstream: fragmented MP4 (moof box present) not supported")

// detectFragmented walks data's top-level box headers looking for a moof.
// The walk is headers-only — it never descends into a box — so it costs a
// handful of reads regardless of prefix size, and runs before the tree
// parser so a fragmented object is rejected without building its tree.
// data is a prefix and may end anywhere; a header the prefix cuts off ends
// the walk, as does anything the tree parser would reject with a better
// error.
func detectFragmented(data []byte) bool {
	pos := uint64(0)
	end := uint64(len(data))
	for pos+8 <= end {
		size := uint64(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := data[pos+4 : pos+8]

		if string(typ) == "moof" {
			return true
		}

		switch size {
		case 0:
			// Extends to the end of the input; nothing follows.
			return false
		case 1:
			if pos+16 > end {
				return false
			}
			size = binary.BigEndian.Uint64(data[pos+8 : pos+16])
			if size < 16 {
				return false
			}
		default:
			if size < 8 {
				return false
			}
		}

		if size > end-pos {
			// The next sibling starts past the prefix.
			return false
		}
		pos += size
	}
	return false
}
