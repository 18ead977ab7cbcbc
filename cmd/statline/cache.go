package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/statline-ai/statline/pkg/cache"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	open := func(ctx context.Context) (*cache.Responses, string, error) {
		cfg, logger, err := setup(configPath)
		if err != nil {
			return nil, "", err
		}
		c, err := cache.Open(ctx, cfg.Cache, cfg.DBPath, logger.Named("cache"))
		if err != nil {
			return nil, "", err
		}
		if c == nil {
			return nil, "", fmt.Errorf("response cache is disabled")
		}
		return c, cfg.Cache.Backend, nil
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, backend, err := open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\nEntries: %s\n", backend, humanize.Comma(stats.Entries))
			if backend == "memory" {
				fmt.Fprintln(out, "(the memory cache lives inside a running server; use /metrics there)")
			}
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			c, _, err := open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Clear(ctx, expiredOnly)
			if err != nil {
				return err
			}
			what := "cache entries"
			if expiredOnly {
				what = "expired cache entries"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s %s.\n", humanize.Comma(n), what)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	addConfigFlag(cmd, &configPath)
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
