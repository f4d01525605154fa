package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetsuo/mp4stream"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file.mp4>",
		Short: "Print a file's box structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0])
		},
	}
}

func runDump(path string) error {
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

	for _, b := range boxes {
		printDumpBox(b, 0)
	}
	return nil
}

// dumpContainerChildren mirrors the fixed traversal order the rewrite
// engine walks, so the dump reads top-to-bottom the same way update/emit do.
var dumpContainerChildren = map[mp4.BoxType][]mp4.BoxType{
	mp4.TypeMoov: {mp4.TypeMvhd, mp4.TypeTrak, mp4.TypeTkhd},
	mp4.TypeTrak: {mp4.TypeTkhd, mp4.TypeMdia},
	mp4.TypeMdia: {mp4.TypeMdhd, mp4.TypeHdlr, mp4.TypeMinf},
	mp4.TypeMinf: {mp4.TypeVmhd, mp4.TypeSmhd, mp4.TypeDinf, mp4.TypeStbl},
	mp4.TypeStbl: {mp4.TypeStsd, mp4.TypeStts, mp4.TypeStss, mp4.TypeCtts, mp4.TypeStsc, mp4.TypeStsz, mp4.TypeStco, mp4.TypeCo64},
}

func printDumpBox(b *mp4.Box, depth int) {
	indent := strings.Repeat("  ", depth)

	vf := ""
	if b.HasFull {
		vf = fmt.Sprintf(" v=%d flags=0x%06x", b.Version, b.Flags)
	}
	fmt.Printf("%s[%s] offset=%d size=%d%s\n", indent, b.Type, b.Offset, b.Size, vf)

	order, ok := dumpContainerChildren[b.Type]
	if !ok {
		return
	}
	printed := make(map[*mp4.Box]bool, len(b.Children))
	for _, t := range order {
		for _, c := range b.Children {
			if c.Type == t {
				printDumpBox(c, depth+1)
				printed[c] = true
			}
		}
	}
	for _, c := range b.Children {
		if !printed[c] {
			printDumpBox(c, depth+1)
		}
	}
}
