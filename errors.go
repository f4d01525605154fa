package mp4

import "errors"

// Sentinel error kinds. Callers should use errors.Is against
// these; call sites wrap them with fmt.Errorf("%w", ...) to add context.
var (
	// ErrEndOfInput signals a short read while parsing the box tree.
	ErrEndOfInput = errors.New("mp4: end of input")

	// ErrMalformedMP4 signals a structural inconsistency in a sample table
	// that the rewrite engine cannot reconcile with the requested start time.
	ErrMalformedMP4 = errors.New("mp4: malformed file")

	// ErrStartOutOfRange signals a requested start time at or beyond the
	// movie duration.
	ErrStartOutOfRange = errors.New("mp4: start time out of range")

	// ErrIncorrectParse signals that stss.update was reached without a
	// start sample having been computed by stts — the buffered metadata
	// prefix did not reach far enough into stbl. Retryable: the caller
	// should widen its prefetch window and parse again.
	ErrIncorrectParse = errors.New("mp4: incomplete metadata prefix")

	// ErrAtomNotSupported signals an atom this rewriter does not implement,
	// currently only a compressed movie header (cmov).
	ErrAtomNotSupported = errors.New("mp4: atom not supported")
)
