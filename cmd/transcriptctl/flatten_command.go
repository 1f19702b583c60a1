package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/snarg/yt-transcripts/internal/transcript"
)

func newFlattenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flatten [file]",
		Short: "Convert a transcript JSON document to plain text",
		Long:  "Read a cache entry, a bare segment array or an API success response (from a file, or stdin when no file or \"-\" is given) and print its text one segment per line.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			e, err := transcript.DecodeEntry(data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.Transcript.Flatten())
			return nil
		},
	}
}
