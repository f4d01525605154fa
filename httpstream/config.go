// Package httpstream wires the mp4 rewrite engine to HTTP: an origin object
// store (S3) behind a Range-fetching interface, and a server that answers
// GET /v1/objects/{key}?start=<seconds> with a synthesized MP4.
package httpstream

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// defaultPrefetchBytes is the initial Range window fetched for parsing, in
// bytes, before any widen-and-retry.
const defaultPrefetchBytes = 4 << 20

// maxPrefetchMultiplier bounds how far the widen-and-retry loop grows the
// prefetch window past Config.PrefetchBytes.
const maxPrefetchMultiplier = 4

// Config holds the settings an operator supplies via environment variables
// (optionally loaded from a .env file) to run the server.
type Config struct {
	Bucket         string
	Region         string
	ListenAddr     string
	PrefetchBytes  int64
	AllowedOrigins []string
}

// LoadConfig loads a .env file if present (a missing file is not fatal, only
// logged) and reads settings from the environment, applying defaults for
// anything unset.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded, using process environment")
	}

	return &Config{
		Bucket:         getenv("MP4STREAM_BUCKET", ""),
		Region:         getenv("MP4STREAM_REGION", "us-east-1"),
		ListenAddr:     getenv("MP4STREAM_LISTEN_ADDR", ":8080"),
		PrefetchBytes:  getenvInt64("MP4STREAM_PREFETCH_BYTES", defaultPrefetchBytes),
		AllowedOrigins: []string{getenv("MP4STREAM_ALLOWED_ORIGIN", "*")},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer env var, using default")
		return fallback
	}
	return n
}
