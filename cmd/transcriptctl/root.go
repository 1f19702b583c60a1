package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var flags rootFlags
	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "transcriptctl",
		Short:         "Inspect and populate the yt-transcripts cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", "", "Path to .env file (default: .env)")
	pf.StringVar(&flags.cacheBackend, "cache-backend", "", "local, sqlite, postgres or s3 (overrides CACHE_BACKEND)")
	pf.StringVar(&flags.cacheDir, "cache-dir", "", "Cache directory (overrides CACHE_DIR)")
	pf.StringVar(&flags.databaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newFlattenCommand())

	return rootCmd
}
