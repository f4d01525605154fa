package httpstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/tetsuo/mp4stream"
)

// Server answers pseudo-streaming requests for objects behind an Origin.
type Server struct {
	origin   Origin
	prefetch int64
	logger   zerolog.Logger
}

// NewServer builds a Server reading from origin, using prefetchBytes as the
// initial metadata Range window.
func NewServer(origin Origin, prefetchBytes int64, logger zerolog.Logger) *Server {
	if prefetchBytes <= 0 {
		prefetchBytes = defaultPrefetchBytes
	}
	return &Server{origin: origin, prefetch: prefetchBytes, logger: logger}
}

// Router builds the gorilla/mux router exposing the object-streaming route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/objects/{key:.+}", s.handleObject).Methods(http.MethodGet)
	return r
}

// Handler wraps Router with access logging and CORS, ready to hand to
// http.ListenAndServe. allowedOrigins configures which origins the CORS
// middleware accepts.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	cors := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins(allowedOrigins),
		gorillaHandlers.AllowedMethods([]string{http.MethodGet}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type"}),
	)(s.Router())
	return gorillaHandlers.CombinedLoggingHandler(logWriter{s.logger}, cors)
}

// logWriter adapts zerolog.Logger to the io.Writer CombinedLoggingHandler
// writes its access log lines to.
type logWriter struct {
	logger zerolog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Info().Msg(string(p))
	return len(p), nil
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	logger := s.logger.With().Str("request_id", reqID).Logger()

	key := mux.Vars(r)["key"]
	startSeconds, err := parseStart(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, "invalid start parameter", err)
		return
	}

	ctx := r.Context()
	size, err := s.origin.Size(ctx, key)
	if err != nil {
		writeError(w, logger, http.StatusNotFound, "object not found", err)
		return
	}

	stream, err := s.parseWithRetry(ctx, key, size, startSeconds, &logger)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, mp4.ErrStartOutOfRange):
			status = http.StatusRequestedRangeNotSatisfiable
		case errors.Is(err, ErrFragmentedMP4):
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, logger, status, "could not rewrite object metadata", err)
		return
	}

	metadata, err := collectMetadata(stream)
	if err != nil {
		writeError(w, logger, http.StatusInternalServerError, "could not emit metadata", err)
		return
	}

	lo, hi, err := stream.MdatRange()
	if err != nil {
		writeError(w, logger, http.StatusInternalServerError, "could not compute media range", err)
		return
	}
	mdatLen := int64(hi) - int64(lo) + 1

	mdat, _, err := s.origin.FetchRange(ctx, key, int64(lo), mdatLen)
	if err != nil {
		writeError(w, logger, http.StatusBadGateway, "could not fetch media range", err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.FormatInt(int64(len(metadata))+int64(len(mdat)), 10))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(metadata); err != nil {
		logger.Warn().Err(err).Msg("writing metadata to client")
		return
	}
	if _, err := w.Write(mdat); err != nil {
		logger.Warn().Err(err).Msg("writing media payload to client")
	}
}

// parseWithRetry fetches the metadata prefix, parses it, and runs the
// rewrite engine's update pass, widening the Range window (capped at
// maxPrefetchMultiplier x the configured prefetch) when the failure means
// the prefix was too short: verify() returning false, a short read inside
// moov, or an update pass that ran out of buffered sample tables. Terminal
// errors (cmov, structurally malformed tables, start out of range) are
// returned without retrying.
func (s *Server) parseWithRetry(ctx context.Context, key string, size int64, startSeconds float64, logger *zerolog.Logger) (*mp4.Stream, error) {
	window := s.prefetch
	maxWindow := s.prefetch * maxPrefetchMultiplier

	var lastErr error
	for {
		if window > size {
			window = size
		}

		data, _, err := s.origin.FetchRange(ctx, key, 0, window)
		if err != nil {
			return nil, err
		}

		if detectFragmented(data) {
			return nil, ErrFragmentedMP4
		}

		stream, err := mp4.NewStream(bytes.NewReader(data), size, startSeconds)
		switch {
		case err == nil && stream.Verify():
			err = stream.Update()
			if err == nil {
				return stream, nil
			}
			if !retryable(err) {
				return nil, err
			}
			lastErr = err
		case err == nil:
			lastErr = mp4.ErrMalformedMP4
		case retryable(err):
			lastErr = err
		default:
			return nil, err
		}

		if window >= maxWindow || window >= size {
			return nil, lastErr
		}

		logger.Info().Int64("window", window).Msg("widening metadata prefetch and retrying")
		window *= maxPrefetchMultiplier
	}
}

// retryable reports whether err means "the buffered prefix was too short"
// rather than "this object can never be rewritten".
func retryable(err error) bool {
	return errors.Is(err, mp4.ErrEndOfInput) || errors.Is(err, mp4.ErrIncorrectParse)
}

func collectMetadata(stream *mp4.Stream) ([]byte, error) {
	iter, err := stream.EmitMetadata()
	if err != nil {
		return nil, err
	}
	var out []byte
	for {
		chunk, err := iter.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}

func parseStart(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, status int, msg string, err error) {
	logger.Error().Err(err).Int("status", status).Msg(msg)
	http.Error(w, msg+": "+err.Error(), status)
}
