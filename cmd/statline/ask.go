package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/pipeline"
)

func newAskCmd() *cobra.Command {
	var (
		configPath string
		model      string
		stream     bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stack, err := pipeline.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = stack.Close() }()

			out := cmd.OutOrStdout()
			var onChunk func(string)
			if stream && !asJSON {
				onChunk = func(s string) { fmt.Fprint(out, s) }
			}

			ans, err := stack.Pipeline.Ask(ctx, strings.Join(args, " "), model, onChunk)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			if onChunk != nil {
				fmt.Fprintln(out)
			} else {
				fmt.Fprintln(out, ans.Text)
			}
			printAnswerFooter(out, ans)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&model, "model", "m", "", "model to answer with (default from config)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func printAnswerFooter(w io.Writer, ans models.Answer) {
	if len(ans.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for _, c := range ans.Citations {
			fmt.Fprintf(w, "  [%s] %s%s\n", c.ID, c.SourceType, anchorLabel(c.Anchor))
		}
	}
	fmt.Fprintln(w)
	cache := "miss"
	if ans.CacheHit {
		cache = "hit"
	}
	fmt.Fprintf(w, "%s · %s · confidence %.2f · $%.4f · %s · cache %s\n",
		ans.Model, ans.Intent, ans.Confidence, ans.Cost,
		time.Duration(ans.LatencyMs)*time.Millisecond, cache)
	if ans.Degraded {
		fmt.Fprintln(w, "warning: some evidence sources were unavailable; the answer may be incomplete")
	}
}

func anchorLabel(a models.Anchor) string {
	switch {
	case !a.Date.IsZero():
		return ", " + a.Date.Format(time.DateOnly)
	case a.Season != 0:
		return fmt.Sprintf(", season %d", a.Season)
	default:
		return ""
	}
}
