package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetsuo/mp4stream"
	"github.com/tetsuo/mp4stream/probe"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file.mp4>",
		Short: "Print per-track sample counts, duration, and keyframe positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(args[0])
		},
	}
}

func runProbe(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mp4stream: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("mp4stream: stat %s: %w", path, err)
	}

	boxes, err := mp4.Parse(f, info.Size())
	if err != nil {
		return fmt.Errorf("mp4stream: parsing %s: %w", path, err)
	}

	tracks, err := probe.Walk(boxes)
	if err != nil {
		return fmt.Errorf("mp4stream: probing %s: %w", path, err)
	}

	for _, t := range tracks {
		fmt.Printf("track %d: timescale=%d samples=%d duration=%.3fs\n", t.TrackID, t.Timescale, len(t.Samples), t.Duration())
		keyframes := t.Keyframes()
		fmt.Printf("  keyframes (%d):", len(keyframes))
		for _, k := range keyframes {
			fmt.Printf(" %.3f", k)
		}
		fmt.Println()
	}
	return nil
}
