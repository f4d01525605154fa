package mp4

import "encoding/binary"

// box assembles a single ISO-BMFF box's bytes: a 4-byte size, the
// 4-byte type, and a body. Used by tests to build synthetic fixtures
// without a real encoder MP4 file on disk.
func box(typ string, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], typ)
	copy(out[8:], body)
	return out
}

func fullBox(typ string, version uint8, flags uint32, body []byte) []byte {
	vf := make([]byte, 4)
	vf[0] = version
	vf[1] = byte(flags >> 16)
	vf[2] = byte(flags >> 8)
	vf[3] = byte(flags)
	return box(typ, append(vf, body...))
}

func u32b(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64b(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func co64EntriesBytes(entries []uint64) []byte {
	out := u32b(uint32(len(entries)))
	for _, e := range entries {
		out = append(out, u64b(e)...)
	}
	return out
}

// testMovie describes the one-track fixture buildTestMovie assembles, and
// records the pre-rewrite facts a test needs to assert against.
type testMovie struct {
	Data      []byte
	Timescale uint32
	MdatBegin uint64 // first byte of mdat's payload (not its header)
	MdatEnd   uint64 // exclusive
	ChunkOffs []uint64
}

// buildTestMovie assembles a minimal single-track MP4: ftyp, moov (mvhd +
// one trak with tkhd/mdia/mdhd/hdlr/minf/vmhd/dinf/stbl), and mdat.
// nSamples samples of sampleSize bytes each, samplesPerChunk per chunk, one
// sample duration tick each. withStss adds a keyframe at the start of every
// chunk; omit it for fixtures that would otherwise hit the "no start sample
// resolved yet" stss guard at start=0.
func buildTestMovie(nSamples, samplesPerChunk, sampleSize, sampleDuration int, timescale uint32, withStss bool) *testMovie {
	return buildTestMovieChunks(nSamples, samplesPerChunk, sampleSize, sampleDuration, timescale, withStss, false)
}

// buildTestMovieChunks is buildTestMovie with control over the chunk-offset
// table's width: use64 builds a co64 box (8-byte entries) instead of stco.
func buildTestMovieChunks(nSamples, samplesPerChunk, sampleSize, sampleDuration int, timescale uint32, withStss, use64 bool) *testMovie {
	return buildTestMovieFull(nSamples, samplesPerChunk, sampleSize, sampleDuration, timescale, withStss, use64, false)
}

// buildTestMovieFull adds the last fixture knob: uniformStsz builds an
// implicit sample-size table (stsz.sample_size != 0, no entry list).
func buildTestMovieFull(nSamples, samplesPerChunk, sampleSize, sampleDuration int, timescale uint32, withStss, use64, uniformStsz bool) *testMovie {
	nChunks := nSamples / samplesPerChunk

	ftyp := box("ftyp", append([]byte("isomiso5"), u32b(0)...))

	mvhdBody := append([]byte{}, make([]byte, 8)...) // ctime+mtime
	mvhdBody = append(mvhdBody, u32b(timescale)...)
	mvhdBody = append(mvhdBody, u32b(uint32(nSamples*sampleDuration))...) // duration
	mvhdBody = append(mvhdBody, make([]byte, 80)...)                      // rate..next_track_id
	mvhd := fullBox("mvhd", 0, 0, mvhdBody)

	tkhdBody := append([]byte{}, make([]byte, 8)...) // ctime+mtime
	tkhdBody = append(tkhdBody, u32b(1)...)          // track id
	tkhdBody = append(tkhdBody, make([]byte, 4)...)  // reserved
	tkhdBody = append(tkhdBody, u32b(uint32(nSamples*sampleDuration))...)
	tkhdBody = append(tkhdBody, make([]byte, 60)...) // reserved..height
	tkhd := fullBox("tkhd", 0, 0, tkhdBody)

	mdhdBody := append([]byte{}, make([]byte, 8)...) // ctime+mtime
	mdhdBody = append(mdhdBody, u32b(timescale)...)
	mdhdBody = append(mdhdBody, u32b(uint32(nSamples*sampleDuration))...)
	mdhdBody = append(mdhdBody, make([]byte, 4)...) // lang+quality
	mdhd := fullBox("mdhd", 0, 0, mdhdBody)

	hdlr := fullBox("hdlr", 0, 0, append(make([]byte, 8), []byte("vide\x00\x00\x00\x00\x00\x00\x00\x00\x00")...))
	vmhd := fullBox("vmhd", 0, 1, make([]byte, 8))
	dinfBody := fullBox("dref", 0, 0, append(u32b(1), box("url ", []byte{0, 0, 0, 1})...))
	dinf := box("dinf", dinfBody)

	stsd := fullBox("stsd", 0, 0, u32b(0)) // empty entry table: fine, unread

	sttsBody := append(u32b(1), u32b(uint32(nSamples))...)
	sttsBody = append(sttsBody, u32b(uint32(sampleDuration))...)
	stts := fullBox("stts", 0, 0, sttsBody)

	var stss []byte
	if withStss {
		var stssEntries []byte
		var stssCount uint32
		for c := 0; c < nChunks; c++ {
			stssEntries = append(stssEntries, u32b(uint32(c*samplesPerChunk+1))...)
			stssCount++
		}
		stss = fullBox("stss", 0, 0, append(u32b(stssCount), stssEntries...))
	}

	stscBody := append(u32b(1), u32b(1)...)
	stscBody = append(stscBody, u32b(uint32(samplesPerChunk))...)
	stscBody = append(stscBody, u32b(1)...)
	stsc := fullBox("stsc", 0, 0, stscBody)

	var stszBody []byte
	if uniformStsz {
		stszBody = append(u32b(uint32(sampleSize)), u32b(uint32(nSamples))...)
	} else {
		stszBody = append(u32b(0), u32b(uint32(nSamples))...)
		for i := 0; i < nSamples; i++ {
			stszBody = append(stszBody, u32b(uint32(sampleSize))...)
		}
	}
	stsz := fullBox("stsz", 0, 0, stszBody)

	// stco entries are filled in once the mdat offset is known, below.
	stcoEntries := make([]uint64, nChunks)

	stbl := box("stbl", concatBoxes(stsd, stts, stss, stsc, stsz, stcoPlaceholder(nChunks, use64)))
	minf := box("minf", concatBoxes(vmhd, dinf, stbl))
	mdia := box("mdia", concatBoxes(mdhd, hdlr, minf))
	trak := box("trak", concatBoxes(tkhd, mdia))
	moov := box("moov", concatBoxes(mvhd, trak))

	prefixLen := len(ftyp) + len(moov)

	chunkBytes := samplesPerChunk * sampleSize
	mdatPayload := nSamples * sampleSize
	mdatBegin := uint64(prefixLen + 8) // right after mdat's own header
	for c := 0; c < nChunks; c++ {
		stcoEntries[c] = mdatBegin + uint64(c*chunkBytes)
	}

	var stco []byte
	if use64 {
		stco = fullBox("co64", 0, 0, co64EntriesBytes(stcoEntries))
	} else {
		stco = fullBox("stco", 0, 0, stcoEntriesBytes(stcoEntries))
	}
	stbl = box("stbl", concatBoxes(stsd, stts, stss, stsc, stsz, stco))
	minf = box("minf", concatBoxes(vmhd, dinf, stbl))
	mdia = box("mdia", concatBoxes(mdhd, hdlr, minf))
	trak = box("trak", concatBoxes(tkhd, mdia))
	moov = box("moov", concatBoxes(mvhd, trak))

	mdat := box("mdat", make([]byte, mdatPayload))

	var buf []byte
	buf = append(buf, ftyp...)
	buf = append(buf, moov...)
	buf = append(buf, mdat...)

	return &testMovie{
		Data:      buf,
		Timescale: timescale,
		MdatBegin: mdatBegin,
		MdatEnd:   mdatBegin + uint64(mdatPayload),
		ChunkOffs: stcoEntries,
	}
}

func concatBoxes(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

func stcoPlaceholder(n int, use64 bool) []byte {
	if use64 {
		return fullBox("co64", 0, 0, co64EntriesBytes(make([]uint64, n)))
	}
	return fullBox("stco", 0, 0, stcoEntriesBytes(make([]uint64, n)))
}

func stcoEntriesBytes(entries []uint64) []byte {
	out := u32b(uint32(len(entries)))
	for _, e := range entries {
		out = append(out, u32b(uint32(e))...)
	}
	return out
}
