package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/tracker"
)

func newLedgerCmd() *cobra.Command {
	var (
		configPath string
		model      string
		recent     bool
		since      string
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show journaled generation usage and cost by model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			ctx := context.Background()
			out := cmd.OutOrStdout()
			if recent {
				sinceTime := time.Now().UTC().Add(-24 * time.Hour)
				if since != "" {
					t, err := time.Parse(time.DateOnly, since)
					if err != nil {
						return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
					}
					sinceTime = t
				}
				recs, err := tr.Query(ctx, sinceTime)
				if err != nil {
					return err
				}
				fmt.Fprint(out, formatRecent(recs, time.Now()))
				return nil
			}

			summaries, err := tr.Summary(ctx, model)
			if err != nil {
				return err
			}
			fmt.Fprint(out, formatLedgerTable(summaries))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().BoolVar(&recent, "recent", false, "list individual charges instead of the summary")
	cmd.Flags().StringVar(&since, "since", "", "with --recent, start date (YYYY-MM-DD, default: last 24h)")
	return cmd
}

func formatLedgerTable(summaries []models.UsageSummary) string {
	if len(summaries) == 0 {
		return "No usage data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %8s %6s %6s %12s %12s %12s %10s\n",
		"MODEL", "REQUESTS", "HITS", "FAILED", "PROMPT", "COMPLETION", "TOTAL", "COST")
	b.WriteString(strings.Repeat("-", 98) + "\n")

	var (
		totalTokens int64
		totalCost   float64
	)
	for _, s := range summaries {
		fmt.Fprintf(&b, "%-25s %8s %6s %6s %12s %12s %12s $%9.4f\n",
			s.Model,
			humanize.Comma(int64(s.RequestCount)),
			humanize.Comma(int64(s.CacheHits)),
			humanize.Comma(int64(s.Failures)),
			humanize.Comma(s.TotalPrompt),
			humanize.Comma(s.TotalCompletion),
			humanize.Comma(s.TotalTokens),
			s.TotalCost)
		totalTokens += s.TotalTokens
		totalCost += s.TotalCost
	}
	b.WriteString(strings.Repeat("-", 98) + "\n")
	fmt.Fprintf(&b, "%-25s %61s $%9.4f\n", "TOTAL", humanize.Comma(totalTokens), totalCost)
	return b.String()
}

func formatRecent(recs []models.UsageRecord, now time.Time) string {
	if len(recs) == 0 {
		return "No charges in range.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-36s %-25s %-6s %10s %10s\n", "WHEN", "QUERY", "MODEL", "CACHE", "TOKENS", "COST")
	for _, r := range recs {
		status := string(r.CacheStatus)
		if r.Failed {
			status = "failed"
		}
		fmt.Fprintf(&b, "%-16s %-36s %-25s %-6s %10s $%9.4f\n",
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			defaultStr(r.QueryID, "-"),
			r.Model,
			status,
			humanize.Comma(int64(r.TotalTokens)),
			r.Cost)
	}
	return b.String()
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
