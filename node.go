package mp4

// Box is a node in the parsed ISO-BMFF tree. Offset/Size describe the
// box's position in the *original* source; Size is overwritten by update
// with the *emitted* length. Copy=false (the default for anything update
// doesn't explicitly keep) means emit drops the box entirely.
type Box struct {
	Offset  uint64
	Size    uint64
	Type    BoxType
	IsLarge bool

	// FullBox fields; HasFull is false for plain boxes.
	HasFull bool
	Version uint8
	Flags   uint32

	Children []*Box
	Copy     bool

	// Type-specific parsed attributes; at most one is non-nil, matching
	// Box.Type. A nil Attrs on a recognized leaf type never happens — the
	// bespoke parser always populates it or the parse fails.
	Mvhd *MvhdAttrs
	Tkhd *TkhdAttrs
	Mdhd *MdhdAttrs
	Stts *SttsAttrs
	Stss *StssAttrs
	Ctts *CttsAttrs
	Stsc *StscAttrs
	Stsz *StszAttrs
	Stco *StcoAttrs
	Mdat *MdatAttrs
}

// headerLen returns the on-disk box header length: 8 bytes (16 for a
// largesize box), plus 4 more for a FullBox's version+flags word.
func (b *Box) headerLen() uint64 {
	n := uint64(8)
	if b.IsLarge {
		n = 16
	}
	if b.HasFull {
		n += 4
	}
	return n
}

// child returns the first copy=true-or-not child of the given type, or nil.
func (b *Box) child(t BoxType) *Box {
	for _, c := range b.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// MvhdAttrs holds the movie-header fields the rewrite engine needs.
type MvhdAttrs struct {
	Timescale uint32
	Duration  uint64
}

// TkhdAttrs holds the track-header duration.
type TkhdAttrs struct {
	Duration uint64
}

// MdhdAttrs holds the media-header timescale and duration.
type MdhdAttrs struct {
	Timescale uint32
	Duration  uint64
}

// SttsEntry is a decoding-time-to-sample run.
type SttsEntry struct {
	Count    uint32
	Duration uint32
}

// SttsAttrs holds the parsed time-to-sample table.
type SttsAttrs struct {
	Entries []SttsEntry
}

// StssAttrs holds the parsed sync-sample (keyframe) number list, 1-based.
type StssAttrs struct {
	Entries []uint32
}

// CttsEntry is a composition-time-offset run.
type CttsEntry struct {
	Count  uint32
	Offset int32
}

// CttsAttrs holds the parsed composition-offset table.
type CttsAttrs struct {
	Entries []CttsEntry
}

// StscEntry is a sample-to-chunk run.
type StscEntry struct {
	FirstChunk          uint32
	SamplesPerChunk     uint32
	SampleDescriptionID uint32
}

// StscAttrs holds the parsed sample-to-chunk table.
type StscAttrs struct {
	Entries []StscEntry
}

// StszAttrs holds the parsed sample-size table. A non-zero UniformSize
// means every sample has that size and Entries is nil (the box is passed
// through unchanged).
type StszAttrs struct {
	UniformSize uint32
	Entries     []uint32
}

// StcoAttrs holds the parsed chunk-offset table, shared by stco (32-bit)
// and co64 (64-bit); Is64 records which so emit writes the right width.
type StcoAttrs struct {
	Is64    bool
	Entries []uint64
}

// MdatAttrs holds the byte range of the media payload to stream after
// the rewritten metadata.
type MdatAttrs struct {
	StreamOffset uint64
	StreamSize   uint64
}

// TrakData is the per-track scratch record threaded between a trak
// subtree's sibling boxes during update.
type TrakData struct {
	Timescale        uint32
	Chunks           uint32
	ChunkSamples     uint32
	ChunkSamplesSize uint64
	StartChunk       uint32
	StartSample      uint32
	StartOffset      uint64
	startOffsetSet   bool
}

// Context is the global rewrite context threaded through every update call,
// an explicit mutable struct with enumerated, statically-typed fields
// rather than a loosely-typed map, so every field's shape is visible here.
type Context struct {
	StartMs int64

	ChunkOffset  int64
	Mp4Timescale uint32

	Trak *TrakData

	trakStartOffsetSet bool
	TrakStartOffset    uint64
}

// foldTrakStartOffset keeps the minimum start offset across tracks.
func (c *Context) foldTrakStartOffset(v uint64) {
	if !c.trakStartOffsetSet || v < c.TrakStartOffset {
		c.TrakStartOffset = v
		c.trakStartOffsetSet = true
	}
}
