package mp4

import (
	"fmt"
	"io"
)

// emitStep produces one chunk of rewritten metadata, reading original bytes
// from src when it needs to copy something verbatim. Splitting emission
// into steps (rather than one big buffer) is what makes MetadataIter a
// pull-based sequence, modeled as a small state machine.
type emitStep func(src io.ReadSeeker) ([]byte, error)

// MetadataIter is a pull-based sequence over the rewritten ftyp/moov/mdat-
// header bytes. The caller calls Next until it returns io.EOF. Each call
// may re-seek the underlying source, which the caller must not use
// concurrently with iteration.
type MetadataIter struct {
	src   io.ReadSeeker
	steps []emitStep
	idx   int
}

// Next returns the next chunk of metadata bytes, or io.EOF once exhausted.
func (m *MetadataIter) Next() ([]byte, error) {
	if m.idx >= len(m.steps) {
		return nil, io.EOF
	}
	step := m.steps[m.idx]
	m.idx++
	return step(m.src)
}

func readRange(src io.ReadSeeker, offset, n int64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("mp4: negative read length %d at offset %d", n, offset)
	}
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("mp4: seek to %d: %w", offset, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, fmt.Errorf("mp4: read %d bytes at %d: %w", n, offset, err)
	}
	return buf, nil
}

// boxHeaderBytes encodes b's rewritten box header: size (32- or 64-bit per
// IsLarge) and type, followed by version+flags for a FullBox. The
// version+flags word is always the box's original one.
func boxHeaderBytes(b *Box) []byte {
	var buf []byte
	if b.IsLarge {
		buf = make([]byte, 16)
		be.PutUint32(buf[0:4], 1)
		copy(buf[4:8], b.Type[:])
		be.PutUint64(buf[8:16], b.Size)
	} else {
		buf = make([]byte, 8)
		be.PutUint32(buf[0:4], uint32(b.Size))
		copy(buf[4:8], b.Type[:])
	}
	if b.HasFull {
		vf := be.AppendUint32(nil, uint32(b.Version)<<24|b.Flags&0x00ffffff)
		buf = append(buf, vf...)
	}
	return buf
}

// orderFor returns the fixed child order for a container type, from the
// traversal-order tables in box.go.
func orderFor(t BoxType) []BoxType {
	switch t {
	case TypeMoov:
		return moovOrder
	case TypeTrak:
		return trakOrder
	case TypeMdia:
		return mdiaOrder
	case TypeMinf:
		return minfOrder
	case TypeStbl:
		return stblOrder
	}
	return nil
}

// planEmit builds the full ordered step sequence for the rewritten tree:
// the fixed top-level ftyp/moov/mdat order, recursing into each container
// in its own fixed child order. Only copy=true boxes contribute steps.
func planEmit(root []*Box, ctx *Context) []emitStep {
	var steps []emitStep
	for _, t := range topLevelOrder {
		for _, b := range root {
			if b.Type == t && b.Copy {
				steps = append(steps, planBox(b, ctx)...)
			}
		}
	}
	return steps
}

func planBox(b *Box, ctx *Context) []emitStep {
	switch b.Type {
	case TypeFtyp, TypeVmhd, TypeSmhd, TypeDinf, TypeHdlr, TypeStsd:
		return []emitStep{verbatimStep(b)}
	case TypeMdat:
		return []emitStep{mdatHeaderStep(b)}
	case TypeMvhd:
		return []emitStep{mvhdStep(b)}
	case TypeTkhd:
		return []emitStep{tkhdStep(b)}
	case TypeMdhd:
		return []emitStep{mdhdStep(b)}
	case TypeStts:
		return []emitStep{sttsStep(b)}
	case TypeStss:
		return []emitStep{stssStep(b)}
	case TypeCtts:
		return []emitStep{cttsStep(b)}
	case TypeStsc:
		return []emitStep{stscStep(b)}
	case TypeStsz:
		return []emitStep{stszStep(b)}
	case TypeStco, TypeCo64:
		return []emitStep{stcoStep(b, ctx)}
	default:
		// Generic container: new header, then children in fixed order.
		steps := []emitStep{containerHeaderStep(b)}
		for _, t := range orderFor(b.Type) {
			for _, c := range b.Children {
				if c.Type == t && c.Copy {
					steps = append(steps, planBox(c, ctx)...)
				}
			}
		}
		return steps
	}
}

func verbatimStep(b *Box) emitStep {
	return func(src io.ReadSeeker) ([]byte, error) {
		return readRange(src, int64(b.Offset), int64(b.Size))
	}
}

func containerHeaderStep(b *Box) emitStep {
	hdr := boxHeaderBytes(b)
	return func(io.ReadSeeker) ([]byte, error) { return hdr, nil }
}

func mdatHeaderStep(b *Box) emitStep {
	hdr := boxHeaderBytes(b)
	return func(io.ReadSeeker) ([]byte, error) { return hdr, nil }
}

// emitDurationBox renders the common mvhd/tkhd/mdhd shape: header verbatim
// up to the duration field, the new duration, then the original tail
// verbatim.
func emitDurationBox(b *Box, skipLen int, duration uint64, durWidth int) emitStep {
	return func(src io.ReadSeeker) ([]byte, error) {
		hdr := boxHeaderBytes(b)
		dataStart := int64(b.Offset) + int64(b.headerLen())
		pre, err := readRange(src, dataStart, int64(skipLen))
		if err != nil {
			return nil, err
		}
		durBytes := make([]byte, durWidth)
		if durWidth == 8 {
			be.PutUint64(durBytes, duration)
		} else {
			be.PutUint32(durBytes, uint32(duration))
		}
		tailStart := dataStart + int64(skipLen) + int64(durWidth)
		tailLen := int64(b.Offset+b.Size) - tailStart
		tail, err := readRange(src, tailStart, tailLen)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(hdr)+len(pre)+len(durBytes)+len(tail))
		out = append(out, hdr...)
		out = append(out, pre...)
		out = append(out, durBytes...)
		out = append(out, tail...)
		return out, nil
	}
}

// mvhd's duration field is preceded by creation_time, modification_time,
// and timescale (not just the two time fields), so the verbatim prefix
// emitDurationBox skips has to include timescale's 4 bytes too.
func mvhdStep(b *Box) emitStep {
	if b.Version == 1 {
		return emitDurationBox(b, 20, b.Mvhd.Duration, 8)
	}
	return emitDurationBox(b, 12, b.Mvhd.Duration, 4)
}

func tkhdStep(b *Box) emitStep {
	if b.Version == 1 {
		return emitDurationBox(b, 24, b.Tkhd.Duration, 8)
	}
	return emitDurationBox(b, 16, b.Tkhd.Duration, 4)
}

// mdhd has the same creation_time/modification_time/timescale-then-duration
// layout as mvhd.
func mdhdStep(b *Box) emitStep {
	if b.Version == 1 {
		return emitDurationBox(b, 20, b.Mdhd.Duration, 8)
	}
	return emitDurationBox(b, 12, b.Mdhd.Duration, 4)
}

func sttsStep(b *Box) emitStep {
	entries := b.Stts.Entries
	return func(io.ReadSeeker) ([]byte, error) {
		out := append(boxHeaderBytes(b), be.AppendUint32(nil, uint32(len(entries)))...)
		for _, e := range entries {
			out = be.AppendUint32(out, e.Count)
			out = be.AppendUint32(out, e.Duration)
		}
		return out, nil
	}
}

func stssStep(b *Box) emitStep {
	entries := b.Stss.Entries
	return func(io.ReadSeeker) ([]byte, error) {
		out := append(boxHeaderBytes(b), be.AppendUint32(nil, uint32(len(entries)))...)
		for _, e := range entries {
			out = be.AppendUint32(out, e)
		}
		return out, nil
	}
}

func cttsStep(b *Box) emitStep {
	entries := b.Ctts.Entries
	return func(io.ReadSeeker) ([]byte, error) {
		out := append(boxHeaderBytes(b), be.AppendUint32(nil, uint32(len(entries)))...)
		for _, e := range entries {
			out = be.AppendUint32(out, e.Count)
			out = be.AppendUint32(out, uint32(e.Offset))
		}
		return out, nil
	}
}

func stscStep(b *Box) emitStep {
	entries := b.Stsc.Entries
	return func(io.ReadSeeker) ([]byte, error) {
		out := append(boxHeaderBytes(b), be.AppendUint32(nil, uint32(len(entries)))...)
		for _, e := range entries {
			out = be.AppendUint32(out, e.FirstChunk)
			out = be.AppendUint32(out, e.SamplesPerChunk)
			out = be.AppendUint32(out, e.SampleDescriptionID)
		}
		return out, nil
	}
}

func stszStep(b *Box) emitStep {
	a := b.Stsz
	if a.UniformSize != 0 {
		return verbatimStep(b)
	}
	entries := a.Entries
	return func(io.ReadSeeker) ([]byte, error) {
		out := boxHeaderBytes(b)
		out = be.AppendUint32(out, 0)
		out = be.AppendUint32(out, uint32(len(entries)))
		for _, e := range entries {
			out = be.AppendUint32(out, e)
		}
		return out, nil
	}
}

func stcoStep(b *Box, ctx *Context) emitStep {
	a := b.Stco
	entries := a.Entries
	return func(io.ReadSeeker) ([]byte, error) {
		out := append(boxHeaderBytes(b), be.AppendUint32(nil, uint32(len(entries)))...)
		for _, e := range entries {
			relocated := int64(e) + ctx.ChunkOffset
			if relocated < 0 {
				return nil, fmt.Errorf("mp4: chunk offset relocates negative: %w", ErrMalformedMP4)
			}
			if a.Is64 {
				out = be.AppendUint64(out, uint64(relocated))
			} else {
				out = be.AppendUint32(out, uint32(relocated))
			}
		}
		return out, nil
	}
}
