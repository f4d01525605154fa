package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tetsuo/mp4stream/httpstream"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server that pseudo-streams objects from the configured bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := httpstream.LoadConfig()
	if cfg.Bucket == "" {
		return fmt.Errorf("mp4stream: MP4STREAM_BUCKET is not set")
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	ctx := context.Background()
	origin, err := httpstream.NewS3Origin(ctx, cfg.Bucket, cfg.Region)
	if err != nil {
		return err
	}

	server := httpstream.NewServer(origin, cfg.PrefetchBytes, logger)

	logger.Info().Str("addr", cfg.ListenAddr).Str("bucket", cfg.Bucket).Msg("starting server")
	return http.ListenAndServe(cfg.ListenAddr, server.Handler(cfg.AllowedOrigins))
}
