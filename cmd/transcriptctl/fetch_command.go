package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snarg/yt-transcripts/internal/fetcher"
	"github.com/snarg/yt-transcripts/internal/transcripts"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var force, asText bool

	cmd := &cobra.Command{
		Use:   "fetch <video-id|url>",
		Short: "Fetch a transcript through the cache",
		Long:  "Fetch a transcript the same way the server does: serve it from the cache when present, otherwise fetch it from the configured source and store it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := videoid.Extract(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			log := ctx.logger()
			f, err := fetcher.New(cfg.Fetch, cfg.Proxy, log.With().Str("component", "fetcher").Logger())
			if err != nil {
				return err
			}
			svc := transcripts.New(transcripts.Options{Store: store, Fetcher: f, Log: log})

			env := svc.Handle(cmd.Context(), id.String(), force)
			if !env.OK() {
				return fmt.Errorf("%s: %s", env.Failure.Kind, env.Failure.Message)
			}
			if asText {
				fmt.Fprintln(cmd.OutOrStdout(), env.Success.Transcript.Flatten())
				return nil
			}
			return writeJSON(cmd, env.Success)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Bypass the cache and refetch")
	cmd.Flags().BoolVar(&asText, "text", false, "Print flattened plain text instead of JSON")
	return cmd
}
