package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/statline-ai/statline/pkg/corpus"
	"github.com/statline-ai/statline/pkg/embed"
	indexsqlite "github.com/statline-ai/statline/pkg/index/sqlite"
	recordsqlite "github.com/statline-ai/statline/pkg/records/sqlite"
)

func newLoadCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "load FILE.jsonl",
		Short: "Load evidence into the local index and record store",
		Long: "Embeds every line of a JSON Lines corpus with the configured embedder and writes it to\n" +
			"the SQLite index. Lines carrying fields are also written to the record store.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Index.Backend != "sqlite" {
				return fmt.Errorf("load writes the sqlite index; index.backend is %q", cfg.Index.Backend)
			}

			ctx := context.Background()
			embedder, err := embed.New(ctx, cfg.Embedding)
			if err != nil {
				return err
			}
			idx, err := indexsqlite.New(cfg.IndexPath())
			if err != nil {
				return err
			}
			defer func() { _ = idx.Close() }()
			store, err := recordsqlite.New(cfg.RecordsPath())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			l := &corpus.Loader{Embedder: embedder, Index: idx, Records: store}
			res, err := l.Load(ctx, f)
			if err != nil {
				return err
			}
			total, err := idx.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s documents and %s records with %s (index now holds %s).\n",
				humanize.Comma(int64(res.Documents)), humanize.Comma(int64(res.Records)), embedder.Name(), humanize.Comma(total))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
