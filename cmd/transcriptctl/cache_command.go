package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/snarg/yt-transcripts/internal/videoid"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached transcripts",
	}

	cacheCmd.AddCommand(newCacheGetCommand(ctx))
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheRemoveCommand(ctx))

	return cacheCmd
}

func newCacheGetCommand(ctx *commandContext) *cobra.Command {
	var asText bool
	cmd := &cobra.Command{
		Use:   "get <video-id|url>",
		Short: "Print a cached transcript without fetching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoid.Extract(args[0])
			if err != nil {
				return err
			}
			store, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			e, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if e == nil {
				return fmt.Errorf("%s is not cached", id)
			}
			if asText {
				fmt.Fprintln(cmd.OutOrStdout(), e.Transcript.Flatten())
				return nil
			}
			return writeJSON(cmd, e)
		},
	}
	cmd.Flags().BoolVar(&asText, "text", false, "Print flattened plain text instead of JSON")
	return cmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached video IDs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "No cached transcripts")
				return nil
			}
			if !details {
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				e, err := store.Get(cmd.Context(), id)
				if err != nil || e == nil {
					rows = append(rows, []string{id.String(), "-", "-", "unreadable"})
					continue
				}
				rows = append(rows, []string{
					id.String(),
					strconv.Itoa(len(e.Transcript)),
					formatDuration(e.Transcript.Duration()),
					e.FetchedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Video", "Segments", "Length", "Fetched"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%d cached transcript(s) in %s backend\n", len(ids), store.Type())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&details, "long", "l", false, "Show segment count, length and fetch time")
	return cmd
}

func newCacheRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <video-id|url>...",
		Aliases: []string{"remove"},
		Short:   "Remove cached transcripts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]videoid.ID, 0, len(args))
			for _, arg := range args {
				id, err := videoid.Extract(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			store, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			for _, id := range ids {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			}
			return nil
		},
	}
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
