// Package probe walks a parsed movie's sample tables to answer read-only
// diagnostic questions — how many samples a track has, where its keyframes
// land, what its total duration is — without rewriting anything. It shares
// no code with the mp4 package's rewrite engine: the engine mutates a tree
// for playback from an offset, probe only ever reads one.
package probe

import (
	"fmt"
	"sort"

	"github.com/tetsuo/mp4stream"
)

// Sample describes one decoded sample's position and timing.
type Sample struct {
	Offset   int64
	Size     uint32
	Duration uint32
	DTS      int64
	Sync     bool
}

// Track holds the walked sample table for one track.
type Track struct {
	TrackID   uint32
	Timescale uint32
	Samples   []Sample
}

// Duration returns the track's duration in seconds.
func (t *Track) Duration() float64 {
	if len(t.Samples) == 0 || t.Timescale == 0 {
		return 0
	}
	last := t.Samples[len(t.Samples)-1]
	return float64(last.DTS+int64(last.Duration)) / float64(t.Timescale)
}

// FindSampleAfter returns the index of the first sync sample at or after
// the given time, in seconds. If none exists, it returns the last sample's
// index.
func (t *Track) FindSampleAfter(timeSeconds float64) int {
	scaled := int64(timeSeconds * float64(t.Timescale))
	idx := sort.Search(len(t.Samples), func(i int) bool {
		return t.Samples[i].DTS >= scaled
	})
	for idx < len(t.Samples) && !t.Samples[idx].Sync {
		idx++
	}
	if idx >= len(t.Samples) {
		return len(t.Samples) - 1
	}
	return idx
}

// Keyframes returns the DTS, in seconds, of every sync sample.
func (t *Track) Keyframes() []float64 {
	var out []float64
	for _, s := range t.Samples {
		if s.Sync {
			out = append(out, float64(s.DTS)/float64(t.Timescale))
		}
	}
	return out
}

// Walk parses every trak under root's moov and builds a Track per track,
// grounded on the same stsc/stsz/stts/stco join the rewrite engine's
// update pass performs, but over the full, unrewritten table.
func Walk(root []*mp4.Box) ([]*Track, error) {
	moov := findType(root, mp4.TypeMoov)
	if moov == nil {
		return nil, fmt.Errorf("probe: no moov box")
	}

	var tracks []*Track
	for i, trak := range childrenOf(moov, mp4.TypeTrak) {
		mdia := childOf(trak, mp4.TypeMdia)
		if mdia == nil {
			continue
		}
		mdhd := childOf(mdia, mp4.TypeMdhd)
		if mdhd == nil || mdhd.Mdhd == nil {
			continue
		}
		minf := childOf(mdia, mp4.TypeMinf)
		if minf == nil {
			continue
		}
		stbl := childOf(minf, mp4.TypeStbl)
		if stbl == nil {
			continue
		}

		samples, err := buildSampleTable(stbl)
		if err != nil {
			continue
		}

		tracks = append(tracks, &Track{
			// tkhd's track_ID field isn't part of the rewrite engine's
			// typed attrs (only duration is), so tracks are numbered by
			// discovery order instead of their on-disk track_ID.
			TrackID:   uint32(i),
			Timescale: mdhd.Mdhd.Timescale,
			Samples:   samples,
		})
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("probe: no usable tracks")
	}
	return tracks, nil
}

func buildSampleTable(stbl *mp4.Box) ([]Sample, error) {
	stsz := childOf(stbl, mp4.TypeStsz)
	if stsz == nil || stsz.Stsz == nil {
		return nil, fmt.Errorf("probe: missing stsz")
	}
	stts := childOf(stbl, mp4.TypeStts)
	if stts == nil || stts.Stts == nil {
		return nil, fmt.Errorf("probe: missing stts")
	}
	stsc := childOf(stbl, mp4.TypeStsc)
	if stsc == nil || stsc.Stsc == nil {
		return nil, fmt.Errorf("probe: missing stsc")
	}

	var chunkOffsets []uint64
	if co64 := childOf(stbl, mp4.TypeCo64); co64 != nil && co64.Stco != nil {
		chunkOffsets = co64.Stco.Entries
	} else if stco := childOf(stbl, mp4.TypeStco); stco != nil && stco.Stco != nil {
		chunkOffsets = stco.Stco.Entries
	} else {
		return nil, fmt.Errorf("probe: missing stco/co64")
	}

	var syncEntries []uint32
	if stss := childOf(stbl, mp4.TypeStss); stss != nil && stss.Stss != nil {
		syncEntries = stss.Stss.Entries
	}

	if stsz.Stsz.UniformSize != 0 {
		return nil, fmt.Errorf("probe: uniform-size stsz sample count is unrecoverable without stsz.sample_count")
	}
	numSamples := len(stsz.Stsz.Entries)

	samples := make([]Sample, numSamples)
	stscEntries := stsc.Stsc.Entries

	sampleInChunk, chunk := 0, 0
	var offsetInChunk uint64
	sampleToChunkIdx := 0

	var dts int64
	sttsEntries := stts.Stts.Entries
	decodingIdx, decodingOff := 0, 0

	syncIdx := 0

	for i := 0; i < numSamples; i++ {
		size := stsz.Stsz.Entries[i]
		duration := sttsEntries[decodingIdx].Duration

		sync := true
		if syncEntries != nil {
			sync = syncIdx < len(syncEntries) && syncEntries[syncIdx] == uint32(i+1)
		}

		samples[i] = Sample{
			Offset:   int64(offsetInChunk + chunkOffsets[chunk]),
			Size:     size,
			Duration: duration,
			DTS:      dts,
			Sync:     sync,
		}

		if i+1 >= numSamples {
			break
		}

		currEntry := stscEntries[sampleToChunkIdx]
		sampleInChunk++
		offsetInChunk += uint64(size)
		if sampleInChunk >= int(currEntry.SamplesPerChunk) {
			sampleInChunk = 0
			offsetInChunk = 0
			chunk++
			if sampleToChunkIdx+1 < len(stscEntries) && uint32(chunk+1) >= stscEntries[sampleToChunkIdx+1].FirstChunk {
				sampleToChunkIdx++
			}
		}

		dts += int64(duration)
		decodingOff++
		if decodingOff >= int(sttsEntries[decodingIdx].Count) {
			decodingIdx++
			decodingOff = 0
		}

		if sync {
			syncIdx++
		}
	}

	return samples, nil
}

func findType(boxes []*mp4.Box, t mp4.BoxType) *mp4.Box {
	for _, b := range boxes {
		if b.Type == t {
			return b
		}
	}
	return nil
}

func childOf(b *mp4.Box, t mp4.BoxType) *mp4.Box {
	for _, c := range b.Children {
		if c.Type == t {
			return c
		}
	}
	return nil
}

func childrenOf(b *mp4.Box, t mp4.BoxType) []*mp4.Box {
	var out []*mp4.Box
	for _, c := range b.Children {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}
