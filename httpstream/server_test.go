package httpstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeOrigin serves objects from memory and counts FetchRange calls so
// tests can observe the widen-and-retry behavior.
type fakeOrigin struct {
	objects map[string][]byte
	fetches int
}

func (o *fakeOrigin) Size(_ context.Context, key string) (int64, error) {
	data, ok := o.objects[key]
	if !ok {
		return 0, fmt.Errorf("fake origin: no object %q", key)
	}
	return int64(len(data)), nil
}

func (o *fakeOrigin) FetchRange(_ context.Context, key string, start, length int64) ([]byte, string, error) {
	data, ok := o.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("fake origin: no object %q", key)
	}
	o.fetches++
	end := start + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	out := append([]byte(nil), data[start:end]...)
	return out, "video/mp4", nil
}

func box(typ string, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(body)))
	copy(out[4:8], typ)
	copy(out[8:], body)
	return out
}

func fullBox(typ string, body []byte) []byte {
	return box(typ, append(make([]byte, 4), body...))
}

func u32b(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

type fixture struct {
	Data      []byte
	MdatBegin uint64 // first payload byte, past mdat's header
	ChunkOffs []uint64
}

// buildFixture assembles a single-track MP4: 20 samples of 50 bytes, one
// timescale tick each at timescale 10 (2 seconds total), 5 samples per
// chunk. withStss puts a keyframe at the start of every chunk. The mdat
// payload is a repeating byte pattern so response tails can be compared
// against exact source ranges.
func buildFixture(withStss bool) *fixture {
	const (
		nSamples        = 20
		samplesPerChunk = 5
		sampleSize      = 50
		timescale       = 10
	)
	nChunks := nSamples / samplesPerChunk

	ftyp := box("ftyp", append([]byte("isomiso5"), u32b(0)...))

	mvhdBody := append(make([]byte, 8), u32b(timescale)...)
	mvhdBody = append(mvhdBody, u32b(nSamples)...) // duration, 1 tick per sample
	mvhdBody = append(mvhdBody, make([]byte, 80)...)
	mvhd := fullBox("mvhd", mvhdBody)

	tkhdBody := append(make([]byte, 8), u32b(1)...)
	tkhdBody = append(tkhdBody, make([]byte, 4)...)
	tkhdBody = append(tkhdBody, u32b(nSamples)...)
	tkhdBody = append(tkhdBody, make([]byte, 60)...)
	tkhd := fullBox("tkhd", tkhdBody)

	mdhdBody := append(make([]byte, 8), u32b(timescale)...)
	mdhdBody = append(mdhdBody, u32b(nSamples)...)
	mdhdBody = append(mdhdBody, make([]byte, 4)...)
	mdhd := fullBox("mdhd", mdhdBody)

	hdlr := fullBox("hdlr", append(make([]byte, 8), []byte("vide\x00\x00\x00\x00\x00\x00\x00\x00\x00")...))
	vmhd := fullBox("vmhd", make([]byte, 8))
	dinf := box("dinf", fullBox("dref", append(u32b(1), box("url ", []byte{0, 0, 0, 1})...)))
	stsd := fullBox("stsd", u32b(0))

	sttsBody := append(u32b(1), u32b(nSamples)...)
	sttsBody = append(sttsBody, u32b(1)...)
	stts := fullBox("stts", sttsBody)

	var stss []byte
	if withStss {
		stssBody := u32b(uint32(nChunks))
		for c := 0; c < nChunks; c++ {
			stssBody = append(stssBody, u32b(uint32(c*samplesPerChunk+1))...)
		}
		stss = fullBox("stss", stssBody)
	}

	stscBody := append(u32b(1), u32b(1)...)
	stscBody = append(stscBody, u32b(samplesPerChunk)...)
	stscBody = append(stscBody, u32b(1)...)
	stsc := fullBox("stsc", stscBody)

	stszBody := append(u32b(0), u32b(nSamples)...)
	for i := 0; i < nSamples; i++ {
		stszBody = append(stszBody, u32b(sampleSize)...)
	}
	stsz := fullBox("stsz", stszBody)

	stcoPlaceholder := fullBox("stco", append(u32b(uint32(nChunks)), make([]byte, 4*nChunks)...))

	assemble := func(stco []byte) ([]byte, int) {
		stblParts := [][]byte{stsd, stts}
		if withStss {
			stblParts = append(stblParts, stss)
		}
		stblParts = append(stblParts, stsc, stsz, stco)
		stbl := box("stbl", bytes.Join(stblParts, nil))
		minf := box("minf", bytes.Join([][]byte{vmhd, dinf, stbl}, nil))
		mdia := box("mdia", bytes.Join([][]byte{mdhd, hdlr, minf}, nil))
		trak := box("trak", bytes.Join([][]byte{tkhd, mdia}, nil))
		moov := box("moov", bytes.Join([][]byte{mvhd, trak}, nil))
		prefix := bytes.Join([][]byte{ftyp, moov}, nil)
		return prefix, len(prefix)
	}

	_, prefixLen := assemble(stcoPlaceholder)
	mdatBegin := uint64(prefixLen + 8)

	chunkOffs := make([]uint64, nChunks)
	stcoBody := u32b(uint32(nChunks))
	for c := 0; c < nChunks; c++ {
		chunkOffs[c] = mdatBegin + uint64(c*samplesPerChunk*sampleSize)
		stcoBody = append(stcoBody, u32b(uint32(chunkOffs[c]))...)
	}
	prefix, _ := assemble(fullBox("stco", stcoBody))

	payload := make([]byte, nSamples*sampleSize)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	data := append(prefix, box("mdat", payload)...)
	return &fixture{Data: data, MdatBegin: mdatBegin, ChunkOffs: chunkOffs}
}

func newTestServer(t *testing.T, objects map[string][]byte, prefetch int64) (*Server, *fakeOrigin) {
	t.Helper()
	origin := &fakeOrigin{objects: objects}
	return NewServer(origin, prefetch, zerolog.Nop()), origin
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServeObjectFromStart(t *testing.T) {
	f := buildFixture(false)
	s, _ := newTestServer(t, map[string][]byte{"clip.mp4": f.Data}, 1<<20)

	rec := doGet(t, s, "/v1/objects/clip.mp4?start=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))

	body := rec.Body.Bytes()
	require.Equal(t, strconv.Itoa(len(body)), rec.Header().Get("Content-Length"))

	// start=0 is the identity rewrite: same total size, same payload tail.
	require.Len(t, body, len(f.Data))
	require.Equal(t, f.Data[f.MdatBegin:], body[len(body)-int(uint64(len(f.Data))-f.MdatBegin):])
	require.Equal(t, []byte("ftyp"), body[4:8])
}

func TestServeObjectMidStream(t *testing.T) {
	f := buildFixture(true)
	s, _ := newTestServer(t, map[string][]byte{"clip.mp4": f.Data}, 1<<20)

	// 0.5s lands exactly on the second chunk's first sample.
	rec := doGet(t, s, "/v1/objects/clip.mp4?start=0.5")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.Bytes()
	wantTail := f.Data[f.ChunkOffs[1]:]
	require.Equal(t, wantTail, body[len(body)-len(wantTail):])
	require.Less(t, len(body), len(f.Data))
}

func TestServeObjectStartOutOfRange(t *testing.T) {
	f := buildFixture(true)
	s, _ := newTestServer(t, map[string][]byte{"clip.mp4": f.Data}, 1<<20)

	rec := doGet(t, s, "/v1/objects/clip.mp4?start=100")
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestServeObjectBadStartParam(t *testing.T) {
	f := buildFixture(true)
	s, _ := newTestServer(t, map[string][]byte{"clip.mp4": f.Data}, 1<<20)

	rec := doGet(t, s, "/v1/objects/clip.mp4?start=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeObjectNotFound(t *testing.T) {
	s, _ := newTestServer(t, map[string][]byte{}, 1<<20)

	rec := doGet(t, s, "/v1/objects/missing.mp4?start=0")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeObjectFragmentedRejected(t *testing.T) {
	ftyp := box("ftyp", append([]byte("iso5dash"), u32b(0)...))
	moof := box("moof", fullBox("mfhd", u32b(1)))
	mdat := box("mdat", make([]byte, 64))
	data := bytes.Join([][]byte{ftyp, moof, mdat}, nil)

	s, _ := newTestServer(t, map[string][]byte{"frag.mp4": data}, 1<<20)

	rec := doGet(t, s, "/v1/objects/frag.mp4?start=0")
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestServeObjectWidensShortPrefetch(t *testing.T) {
	f := buildFixture(false)

	// A 256-byte window cuts moov in half; the widened window (x4) reaches
	// past mdat's header and the request succeeds on the second parse.
	require.Greater(t, int(f.MdatBegin), 256)
	require.Less(t, int(f.MdatBegin), 1024)

	s, origin := newTestServer(t, map[string][]byte{"clip.mp4": f.Data}, 256)

	rec := doGet(t, s, "/v1/objects/clip.mp4?start=0")
	require.Equal(t, http.StatusOK, rec.Code)

	// Two prefix fetches (short, then widened) plus the mdat range fetch.
	require.Equal(t, 3, origin.fetches)

	body := rec.Body.Bytes()
	require.Len(t, body, len(f.Data))
}
