package mp4

import (
	"fmt"
	"io"
)

// Stream is the per-request orchestrator: given a seekable source and a
// start time, it parses the box tree, verifies the boxes the rewrite needs
// are present, rewrites the sample tables, and produces rewritten metadata
// bytes plus the mdat byte range the caller must stream afterward.
type Stream struct {
	src       io.ReadSeeker
	sourceLen int64
	startMs   int64

	root []*Box
	ctx  *Context
}

// NewStream parses src (of the given total length) from its metadata
// prefix, targeting playback starting at startSeconds. startSeconds is
// multiplied by 1000 and truncated toward zero to obtain the millisecond
// start time.
func NewStream(src io.ReadSeeker, sourceLen int64, startSeconds float64) (*Stream, error) {
	startMs := int64(startSeconds * 1000)

	p := newParser(src, sourceLen)
	root, err := p.parseTopLevel(0, sourceLen)
	if err != nil {
		return nil, err
	}

	return &Stream{
		src:       src,
		sourceLen: sourceLen,
		startMs:   startMs,
		root:      root,
	}, nil
}

// Parse parses src's top-level box tree without running the rewrite
// engine, for diagnostics tools that want to inspect a file's structure
// as parsed rather than as rewritten.
func Parse(src io.ReadSeeker, sourceLen int64) ([]*Box, error) {
	p := newParser(src, sourceLen)
	return p.parseTopLevel(0, sourceLen)
}

func (s *Stream) findTop(t BoxType) *Box {
	for _, b := range s.root {
		if b.Type == t {
			return b
		}
	}
	return nil
}

// Verify reports whether the top level has ftyp, moov, and mdat boxes. A
// false result means the buffered metadata prefix didn't reach mdat's
// header; the caller should widen its prefetch window and reparse.
func (s *Stream) Verify() bool {
	return s.findTop(TypeFtyp) != nil && s.findTop(TypeMoov) != nil && s.findTop(TypeMdat) != nil
}

// Update runs the rewrite engine's update pass over the whole tree,
// trimming sample tables to start at the requested time and settling every
// size/offset computation before any byte is emitted.
func (s *Stream) Update() error {
	if !s.Verify() {
		return fmt.Errorf("mp4: missing ftyp/moov/mdat in parsed prefix: %w", ErrMalformedMP4)
	}

	ctx := &Context{StartMs: s.startMs}
	for _, t := range topLevelOrder {
		for _, b := range s.root {
			if b.Type == t {
				if err := updateBox(b, ctx); err != nil {
					return err
				}
			}
		}
	}
	s.ctx = ctx
	return nil
}

// EmitMetadata returns a lazy, pull-based sequence of the rewritten
// ftyp/moov/mdat-header bytes. Update must have run first. The returned
// iterator re-seeks src on every Next call.
func (s *Stream) EmitMetadata() (*MetadataIter, error) {
	if s.ctx == nil {
		return nil, fmt.Errorf("mp4: EmitMetadata called before Update")
	}
	return &MetadataIter{src: s.src, steps: planEmit(s.root, s.ctx)}, nil
}

// MdatRange returns the inclusive byte range, in the original source, of
// the mdat payload the caller must stream after the rewritten metadata.
func (s *Stream) MdatRange() (lo, hi uint64, err error) {
	if s.ctx == nil {
		return 0, 0, fmt.Errorf("mp4: MdatRange called before Update")
	}
	mdat := s.findTop(TypeMdat)
	if mdat == nil || mdat.Mdat == nil {
		return 0, 0, fmt.Errorf("mp4: no mdat box: %w", ErrMalformedMP4)
	}
	lo = mdat.Mdat.StreamOffset
	if mdat.Mdat.StreamSize == 0 {
		return lo, lo, nil
	}
	hi = lo + mdat.Mdat.StreamSize - 1
	return lo, hi, nil
}
