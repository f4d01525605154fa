package mp4

import (
	"errors"
	"fmt"
	"io"
)

// parser walks the ISO-BMFF box tree over a seekable source.
// sourceLen is the object's total known length, used to resolve a
// size==0 ("extends to end of container") box at the top level.
type parser struct {
	br        *byteReader
	sourceLen int64
}

func newParser(src io.ReadSeeker, sourceLen int64) *parser {
	return &parser{br: newByteReader(src), sourceLen: sourceLen}
}

// parseTree parses sibling boxes starting at pos up to end, in on-disk
// order (the caller's update/emit order tables reorder them afterward).
// Used for boxes nested below the top level; a short read is returned to
// the caller as an error rather than ending the walk, since a container's
// own size already bounds how far its children extend.
func (p *parser) parseTree(pos, end int64) ([]*Box, error) {
	var out []*Box
	for pos < end {
		b, err := p.parseBox(pos, end)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		pos = int64(b.Offset + b.Size)
	}
	return out, nil
}

// parseTopLevel parses top-level sibling boxes, treating a short read
// anywhere in the next box (its header or, for a container such as moov,
// its nested children) as "the buffered prefix ends here": that box is
// dropped and the walk stops instead of failing. sourceLen is the object's
// real total length, but a
// middleware may only have handed us the first few megabytes, and mdat
// commonly sits past that boundary. This makes Verify() the signal for
// "prefix too short", not a parse error.
func (p *parser) parseTopLevel(pos, end int64) ([]*Box, error) {
	var out []*Box
	for pos < end {
		b, err := p.parseBox(pos, end)
		if err != nil {
			if errors.Is(err, ErrEndOfInput) {
				break
			}
			return nil, err
		}
		out = append(out, b)
		pos = int64(b.Offset + b.Size)
	}
	return out, nil
}

// parseBox reads one box header at pos and dispatches to a bespoke parser,
// a generic container, or a generic opaque leaf.
func (p *parser) parseBox(pos, parentEnd int64) (*Box, error) {
	if err := p.br.seek(pos); err != nil {
		return nil, err
	}

	size32, err := p.br.u32()
	if err != nil {
		return nil, err
	}
	typ, err := p.br.fourcc()
	if err != nil {
		return nil, err
	}

	size := uint64(size32)
	isLarge := false
	headerEnd := pos + 8

	if size32 == 1 {
		size, err = p.br.u64()
		if err != nil {
			return nil, err
		}
		isLarge = true
		headerEnd = pos + 16
	} else if size32 == 0 {
		if typ == TypeMdat && p.sourceLen <= 0 {
			return nil, fmt.Errorf("mp4: mdat with size 0 and no known source length: %w", ErrMalformedMP4)
		}
		end := parentEnd
		if p.sourceLen > 0 && p.sourceLen < end {
			end = p.sourceLen
		}
		size = uint64(end - pos)
	}

	b := &Box{Offset: uint64(pos), Size: size, Type: typ, IsLarge: isLarge}
	boxEnd := pos + int64(size)

	switch {
	case typ == TypeMdat:
		b.Mdat = &MdatAttrs{}
		return b, nil
	case typ == TypeCmov:
		return nil, fmt.Errorf("mp4: compressed movie header (cmov): %w", ErrAtomNotSupported)
	case typ == TypeMvhd:
		if err := p.parseMvhd(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeTkhd:
		if err := p.parseTkhd(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeMdhd:
		if err := p.parseMdhd(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeStts:
		if err := p.parseStts(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeStss:
		if err := p.parseStss(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeCtts:
		if err := p.parseCtts(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeStsc:
		if err := p.parseStsc(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeStsz:
		if err := p.parseStsz(b, headerEnd); err != nil {
			return nil, err
		}
	case typ == TypeStco:
		if err := p.parseStco(b, headerEnd, false); err != nil {
			return nil, err
		}
	case typ == TypeCo64:
		if err := p.parseStco(b, headerEnd, true); err != nil {
			return nil, err
		}
	case isContainerType(typ):
		children, err := p.parseTree(headerEnd, boxEnd)
		if err != nil {
			return nil, err
		}
		b.Children = children
	default:
		// Opaque leaf: ftyp, free/skip-as-data, and everything unrecognized.
		// copy defaults to false; ftyp.update flips it back on.
	}

	return b, nil
}

func fullBoxHeader(b *Box, br *byteReader) error {
	vf, err := br.u32()
	if err != nil {
		return err
	}
	b.HasFull = true
	b.Version = uint8(vf >> 24)
	b.Flags = vf & 0x00ffffff
	return nil
}

func (p *parser) parseMvhd(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	a := &MvhdAttrs{}
	if b.Version == 1 {
		if err := p.br.skip(16); err != nil {
			return err
		}
		ts, err := p.br.u32()
		if err != nil {
			return err
		}
		dur, err := p.br.u64()
		if err != nil {
			return err
		}
		a.Timescale, a.Duration = ts, dur
	} else {
		if err := p.br.skip(8); err != nil {
			return err
		}
		ts, err := p.br.u32()
		if err != nil {
			return err
		}
		dur, err := p.br.u32()
		if err != nil {
			return err
		}
		a.Timescale, a.Duration = ts, uint64(dur)
	}
	b.Mvhd = a
	return nil
}

func (p *parser) parseTkhd(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	a := &TkhdAttrs{}
	if b.Version == 1 {
		if err := p.br.skip(24); err != nil {
			return err
		}
		dur, err := p.br.u64()
		if err != nil {
			return err
		}
		a.Duration = dur
	} else {
		if err := p.br.skip(16); err != nil {
			return err
		}
		dur, err := p.br.u32()
		if err != nil {
			return err
		}
		a.Duration = uint64(dur)
	}
	b.Tkhd = a
	return nil
}

func (p *parser) parseMdhd(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	a := &MdhdAttrs{}
	if b.Version == 1 {
		if err := p.br.skip(16); err != nil {
			return err
		}
		ts, err := p.br.u32()
		if err != nil {
			return err
		}
		dur, err := p.br.u64()
		if err != nil {
			return err
		}
		a.Timescale, a.Duration = ts, dur
	} else {
		if err := p.br.skip(8); err != nil {
			return err
		}
		ts, err := p.br.u32()
		if err != nil {
			return err
		}
		dur, err := p.br.u32()
		if err != nil {
			return err
		}
		a.Timescale, a.Duration = ts, uint64(dur)
	}
	b.Mdhd = a
	return nil
}

func (p *parser) parseStts(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	count, err := p.br.u32()
	if err != nil {
		return err
	}
	entries := make([]SttsEntry, count)
	for i := range entries {
		c, err := p.br.u32()
		if err != nil {
			return err
		}
		d, err := p.br.u32()
		if err != nil {
			return err
		}
		entries[i] = SttsEntry{Count: c, Duration: d}
	}
	b.Stts = &SttsAttrs{Entries: entries}
	return nil
}

func (p *parser) parseStss(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	count, err := p.br.u32()
	if err != nil {
		return err
	}
	entries := make([]uint32, count)
	for i := range entries {
		v, err := p.br.u32()
		if err != nil {
			return err
		}
		entries[i] = v
	}
	b.Stss = &StssAttrs{Entries: entries}
	return nil
}

func (p *parser) parseCtts(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	count, err := p.br.u32()
	if err != nil {
		return err
	}
	entries := make([]CttsEntry, count)
	for i := range entries {
		c, err := p.br.u32()
		if err != nil {
			return err
		}
		o, err := p.br.u32()
		if err != nil {
			return err
		}
		entries[i] = CttsEntry{Count: c, Offset: int32(o)}
	}
	b.Ctts = &CttsAttrs{Entries: entries}
	return nil
}

func (p *parser) parseStsc(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	count, err := p.br.u32()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("mp4: stsc has no entries: %w", ErrMalformedMP4)
	}
	entries := make([]StscEntry, count)
	for i := range entries {
		fc, err := p.br.u32()
		if err != nil {
			return err
		}
		spc, err := p.br.u32()
		if err != nil {
			return err
		}
		sdi, err := p.br.u32()
		if err != nil {
			return err
		}
		entries[i] = StscEntry{FirstChunk: fc, SamplesPerChunk: spc, SampleDescriptionID: sdi}
	}
	b.Stsc = &StscAttrs{Entries: entries}
	return nil
}

func (p *parser) parseStsz(b *Box, dataStart int64) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	uniform, err := p.br.u32()
	if err != nil {
		return err
	}
	count, err := p.br.u32()
	if err != nil {
		return err
	}
	a := &StszAttrs{UniformSize: uniform}
	if uniform == 0 {
		entries := make([]uint32, count)
		for i := range entries {
			v, err := p.br.u32()
			if err != nil {
				return err
			}
			entries[i] = v
		}
		a.Entries = entries
	}
	b.Stsz = a
	return nil
}

func (p *parser) parseStco(b *Box, dataStart int64, is64 bool) error {
	if err := p.br.seek(dataStart); err != nil {
		return err
	}
	if err := fullBoxHeader(b, p.br); err != nil {
		return err
	}
	count, err := p.br.u32()
	if err != nil {
		return err
	}
	entries := make([]uint64, count)
	for i := range entries {
		if is64 {
			v, err := p.br.u64()
			if err != nil {
				return err
			}
			entries[i] = v
		} else {
			v, err := p.br.u32()
			if err != nil {
				return err
			}
			entries[i] = uint64(v)
		}
	}
	b.Stco = &StcoAttrs{Is64: is64, Entries: entries}
	return nil
}
