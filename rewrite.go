package mp4

import "fmt"

// updateBox dispatches a single box's update() logic.
// Any type not explicitly handled here is left with copy=false (its parse-
// time default) and is dropped from the rewritten tree.
func updateBox(b *Box, ctx *Context) error {
	switch b.Type {
	case TypeFtyp:
		return updateFtyp(b, ctx)
	case TypeMvhd:
		return updateMvhd(b, ctx)
	case TypeTkhd:
		return updateTkhd(b, ctx)
	case TypeMdhd:
		return updateMdhd(b, ctx)
	case TypeStts:
		return updateStts(b, ctx)
	case TypeStss:
		return updateStss(b, ctx)
	case TypeCtts:
		return updateCtts(b, ctx)
	case TypeStsc:
		return updateStsc(b, ctx)
	case TypeStsz:
		return updateStsz(b, ctx)
	case TypeStco, TypeCo64:
		return updateStco(b, ctx)
	case TypeStbl:
		return updateStbl(b, ctx)
	case TypeMdia:
		if err := updateChildrenOrdered(b, mdiaOrder, ctx); err != nil {
			return err
		}
		finalizeContainer(b)
		return nil
	case TypeMinf:
		if err := updateChildrenOrdered(b, minfOrder, ctx); err != nil {
			return err
		}
		finalizeContainer(b)
		return nil
	case TypeTrak:
		return updateTrak(b, ctx)
	case TypeMoov:
		return updateMoov(b, ctx)
	case TypeMdat:
		return updateMdat(b, ctx)
	case TypeStsd, TypeVmhd, TypeSmhd, TypeDinf, TypeHdlr:
		// Unaffected by trimming; pass through byte-for-byte. Size already
		// holds the original length from parsing.
		b.Copy = true
		return nil
	default:
		return nil
	}
}

// updateChildrenOrdered runs update on b's children in the given fixed
// order, ignoring children whose type isn't listed.
func updateChildrenOrdered(b *Box, order []BoxType, ctx *Context) error {
	for _, t := range order {
		for _, c := range b.Children {
			if c.Type == t {
				if err := updateBox(c, ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// finalizeContainer recomputes a container's emitted size from its
// copy=true children and marks it for emission. The recomputation rule
// applies to every container, not just moov.
func finalizeContainer(b *Box) {
	var sum uint64
	for _, c := range b.Children {
		if c.Copy {
			sum += c.Size
		}
	}
	if sum > (1<<32)-9 {
		b.IsLarge = true
		b.Size = sum + 16
	} else {
		b.IsLarge = false
		b.Size = sum + 8
	}
	b.Copy = true
}

func updateFtyp(b *Box, ctx *Context) error {
	b.Copy = true
	ctx.ChunkOffset += int64(b.Size)
	return nil
}

func updateMvhd(b *Box, ctx *Context) error {
	a := b.Mvhd
	streamDuration := int64(a.Duration) - ctx.StartMs*int64(a.Timescale)/1000
	if streamDuration < 0 || (streamDuration == 0 && ctx.StartMs > 0) {
		return fmt.Errorf("mp4: start exceeds movie duration: %w", ErrStartOutOfRange)
	}
	a.Duration = uint64(streamDuration)
	ctx.Mp4Timescale = a.Timescale
	b.Copy = true
	return nil
}

func updateTkhd(b *Box, ctx *Context) error {
	a := b.Tkhd
	d := int64(a.Duration) - ctx.StartMs*int64(ctx.Mp4Timescale)/1000
	if d < 0 {
		d = 0
	}
	a.Duration = uint64(d)
	b.Copy = true
	return nil
}

func updateMdhd(b *Box, ctx *Context) error {
	a := b.Mdhd
	ctx.Trak.Timescale = a.Timescale
	d := int64(a.Duration) - ctx.StartMs*int64(a.Timescale)/1000
	if d < 0 {
		d = 0
	}
	a.Duration = uint64(d)
	b.Copy = true
	return nil
}

const (
	sttsEntrySize = 8
	stssEntrySize = 4
	cttsEntrySize = 8
	stscEntrySize = 12
	stszEntrySize = 4
)

func updateStts(b *Box, ctx *Context) error {
	t := ctx.Trak
	entries := b.Stts.Entries
	streamTime := ctx.StartMs * int64(t.Timescale) / 1000

	var startSample uint32
	var kept []SttsEntry
	matched := false

	for i, e := range entries {
		total := int64(e.Count) * int64(e.Duration)
		if streamTime < total {
			var k uint32
			if e.Duration > 0 {
				k = uint32(streamTime / int64(e.Duration))
			}
			startSample += k
			kept = append(kept, SttsEntry{Count: e.Count - k, Duration: e.Duration})
			kept = append(kept, entries[i+1:]...)
			matched = true
			break
		}
		startSample += e.Count
		streamTime -= total
	}
	if !matched {
		return fmt.Errorf("mp4: start time beyond stts table: %w", ErrMalformedMP4)
	}

	b.Stts.Entries = kept
	t.StartSample = startSample
	b.Copy = true
	b.Size = b.headerLen() + 4 + uint64(len(kept))*sttsEntrySize
	return nil
}

func updateStss(b *Box, ctx *Context) error {
	t := ctx.Trak
	if t.StartSample == 0 {
		return fmt.Errorf("mp4: stss reached before a start sample was resolved: %w", ErrIncorrectParse)
	}
	entries := b.Stss.Entries
	s := t.StartSample + 1

	idx := len(entries)
	for i, v := range entries {
		if v >= s {
			idx = i
			break
		}
	}
	if idx == len(entries) {
		return fmt.Errorf("mp4: no sync sample at or after start: %w", ErrMalformedMP4)
	}

	kept := make([]uint32, len(entries)-idx)
	for i, v := range entries[idx:] {
		kept[i] = v - t.StartSample
	}

	b.Stss.Entries = kept
	b.Copy = true
	b.Size = b.headerLen() + 4 + uint64(len(kept))*stssEntrySize
	return nil
}

func updateCtts(b *Box, ctx *Context) error {
	t := ctx.Trak
	entries := b.Ctts.Entries
	remaining := t.StartSample

	var kept []CttsEntry
	matched := false
	for i, e := range entries {
		if remaining < e.Count {
			kept = append(kept, CttsEntry{Count: e.Count - remaining, Offset: e.Offset})
			kept = append(kept, entries[i+1:]...)
			matched = true
			break
		}
		remaining -= e.Count
	}
	if !matched {
		// Start sample falls beyond the table: drop ctts rather than fail.
		b.Copy = false
		return nil
	}

	b.Ctts.Entries = kept
	b.Copy = true
	b.Size = b.headerLen() + 4 + uint64(len(kept))*cttsEntrySize
	return nil
}

func updateStsc(b *Box, ctx *Context) error {
	t := ctx.Trak
	entries := b.Stsc.Entries

	for _, e := range entries {
		if e.SamplesPerChunk == 0 {
			return fmt.Errorf("mp4: stsc entry with zero samples_per_chunk: %w", ErrMalformedMP4)
		}
	}

	startSample := t.StartSample
	landingIdx := -1
	for i := 0; i < len(entries)-1; i++ {
		n := int64(entries[i+1].FirstChunk-entries[i].FirstChunk) * int64(entries[i].SamplesPerChunk)
		if int64(startSample) <= n {
			landingIdx = i
			break
		}
		startSample -= uint32(n)
	}
	if landingIdx < 0 {
		last := entries[len(entries)-1]
		n := (int64(t.Chunks) - int64(last.FirstChunk)) * int64(last.SamplesPerChunk)
		if int64(startSample) > n {
			return fmt.Errorf("mp4: start sample beyond last stsc run: %w", ErrMalformedMP4)
		}
		landingIdx = len(entries) - 1
	}

	landing := entries[landingIdx]
	spc := landing.SamplesPerChunk
	id := landing.SampleDescriptionID
	startChunk := uint32(int64(landing.FirstChunk-1) + int64(startSample)/int64(spc))
	chunkSamples := startSample % spc

	var kept []StscEntry
	if chunkSamples > 0 {
		// The replace-only shape is taken solely when a following run begins
		// at the very next chunk. When the landing run is the table's last
		// entry the synthetic full-rate entry is always inserted, even if
		// exactly one chunk remains after the partial one: collapsing to the
		// single reduced run would describe that trailing chunk with the
		// split entry's samples_per_chunk instead of its real one.
		hasNextDifferent := landingIdx+1 < len(entries) && entries[landingIdx+1].FirstChunk == startChunk+2
		kept = append(kept, StscEntry{FirstChunk: 1, SamplesPerChunk: spc - chunkSamples, SampleDescriptionID: id})
		if !hasNextDifferent {
			kept = append(kept, StscEntry{FirstChunk: 2, SamplesPerChunk: spc, SampleDescriptionID: id})
		}
	} else {
		kept = append(kept, StscEntry{FirstChunk: 1, SamplesPerChunk: spc, SampleDescriptionID: id})
	}
	for _, e := range entries[landingIdx+1:] {
		kept = append(kept, StscEntry{
			FirstChunk:          e.FirstChunk - startChunk,
			SamplesPerChunk:     e.SamplesPerChunk,
			SampleDescriptionID: e.SampleDescriptionID,
		})
	}

	b.Stsc.Entries = kept
	t.StartChunk = startChunk
	t.ChunkSamples = chunkSamples
	b.Copy = true
	b.Size = b.headerLen() + 4 + uint64(len(kept))*stscEntrySize
	return nil
}

func updateStsz(b *Box, ctx *Context) error {
	t := ctx.Trak
	a := b.Stsz

	if a.UniformSize != 0 {
		t.ChunkSamplesSize = uint64(a.UniformSize) * uint64(t.ChunkSamples)
		b.Copy = true
		return nil
	}

	entries := a.Entries
	if int(t.StartSample) > len(entries) {
		return fmt.Errorf("mp4: start sample beyond stsz table: %w", ErrMalformedMP4)
	}

	lo := int(t.StartSample) - int(t.ChunkSamples)
	var sum uint64
	for _, v := range entries[lo:t.StartSample] {
		sum += uint64(v)
	}
	t.ChunkSamplesSize = sum

	kept := entries[t.StartSample:]
	a.Entries = kept
	b.Copy = true
	b.Size = b.headerLen() + 8 + uint64(len(kept))*stszEntrySize
	return nil
}

func updateStco(b *Box, ctx *Context) error {
	t := ctx.Trak
	a := b.Stco
	entries := a.Entries

	if int(t.StartChunk) >= len(entries) {
		return fmt.Errorf("mp4: start chunk beyond chunk-offset table: %w", ErrMalformedMP4)
	}

	kept := append([]uint64(nil), entries[t.StartChunk:]...)
	startOffset := kept[0] + t.ChunkSamplesSize
	kept[0] = startOffset

	a.Entries = kept
	t.StartOffset = startOffset
	t.startOffsetSet = true

	entryWidth := uint64(4)
	if a.Is64 {
		entryWidth = 8
	}
	b.Copy = true
	b.Size = b.headerLen() + 4 + uint64(len(kept))*entryWidth
	return nil
}

func updateStbl(b *Box, ctx *Context) error {
	if co64 := b.child(TypeCo64); co64 != nil && co64.Stco != nil {
		ctx.Trak.Chunks = uint32(len(co64.Stco.Entries))
	} else if stco := b.child(TypeStco); stco != nil && stco.Stco != nil {
		ctx.Trak.Chunks = uint32(len(stco.Stco.Entries))
	} else {
		return fmt.Errorf("mp4: stbl has no stco/co64: %w", ErrMalformedMP4)
	}

	if err := updateChildrenOrdered(b, stblOrder, ctx); err != nil {
		return err
	}
	finalizeContainer(b)
	return nil
}

func updateTrak(b *Box, ctx *Context) error {
	ctx.Trak = &TrakData{}

	if err := updateChildrenOrdered(b, trakOrder, ctx); err != nil {
		return err
	}
	finalizeContainer(b)

	if ctx.Trak.startOffsetSet {
		ctx.foldTrakStartOffset(ctx.Trak.StartOffset)
	}
	return nil
}

func updateMoov(b *Box, ctx *Context) error {
	if mvhd := b.child(TypeMvhd); mvhd != nil && mvhd.Mvhd != nil {
		ctx.Mp4Timescale = mvhd.Mvhd.Timescale
	} else {
		return fmt.Errorf("mp4: moov has no mvhd: %w", ErrMalformedMP4)
	}

	if err := updateChildrenOrdered(b, moovOrder, ctx); err != nil {
		return err
	}
	finalizeContainer(b)

	ctx.ChunkOffset += int64(b.Size)
	return nil
}

func updateMdat(b *Box, ctx *Context) error {
	if !ctx.trakStartOffsetSet {
		return fmt.Errorf("mp4: no track contributed a start offset: %w", ErrMalformedMP4)
	}
	streamOffset := ctx.TrakStartOffset
	streamSize := (b.Offset + b.Size) - streamOffset

	hdrLen := uint64(8)
	if b.IsLarge {
		hdrLen = 16
	}

	b.Mdat.StreamOffset = streamOffset
	b.Mdat.StreamSize = streamSize
	b.Size = streamSize + hdrLen
	b.Copy = true

	ctx.ChunkOffset += int64(hdrLen)
	ctx.ChunkOffset -= int64(streamOffset)
	return nil
}
