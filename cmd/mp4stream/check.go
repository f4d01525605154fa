package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetsuo/mp4stream"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.mp4>",
		Short: "Report whether a file can be pseudo-streamed by the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0])
		},
	}
}

// runCheck answers the questions the serving path asks of an object before
// rewriting it: is it fragmented (moof), does it carry a compressed movie
// header, are ftyp/moov/mdat all present, and does moov precede mdat (so a
// single bounded prefetch can reach the whole metadata)?
func runCheck(path string) error {
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
		if errors.Is(err, mp4.ErrAtomNotSupported) {
			fmt.Println("not streamable: compressed movie header (cmov)")
			return err
		}
		return fmt.Errorf("mp4stream: parsing %s: %w", path, err)
	}

	var moovOffset, mdatOffset int64 = -1, -1
	hasFtyp, fragmented := false, false
	for _, b := range boxes {
		switch b.Type {
		case mp4.TypeFtyp:
			hasFtyp = true
		case mp4.TypeMoov:
			moovOffset = int64(b.Offset)
		case mp4.TypeMdat:
			mdatOffset = int64(b.Offset)
		case mp4.TypeMoof:
			fragmented = true
		}
	}

	var blockers []string
	if fragmented {
		blockers = append(blockers, "fragmented (moof box present)")
	}
	if !hasFtyp {
		blockers = append(blockers, "no ftyp box")
	}
	if moovOffset < 0 {
		blockers = append(blockers, "no moov box")
	}
	if mdatOffset < 0 {
		blockers = append(blockers, "no mdat box")
	}

	if len(blockers) > 0 {
		for _, b := range blockers {
			fmt.Printf("not streamable: %s\n", b)
		}
		return fmt.Errorf("mp4stream: %s cannot be pseudo-streamed", path)
	}

	fmt.Println("streamable")
	if moovOffset > mdatOffset {
		fmt.Printf("note: moov (offset %d) follows mdat (offset %d); the server's prefetch window must reach past mdat to parse metadata\n", moovOffset, mdatOffset)
	} else {
		fmt.Printf("moov at offset %d, mdat at offset %d (faststart layout)\n", moovOffset, mdatOffset)
	}
	return nil
}
