// Command mp4stream serves pseudo-streamed MP4 objects over HTTP and
// provides dump/probe diagnostics for the same files offline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mp4stream",
		Short: "MP4 pseudo-streaming metadata rewriter",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newCheckCmd())
	return root
}
