package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/config"
	"github.com/statline-ai/statline/pkg/logging"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "statline",
		Short:         "Statline: answers sports-statistics questions from retrieved evidence",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newAskCmd(),
		newServeCmd(),
		newLoadCmd(),
		newLedgerCmd(),
		newCacheCmd(),
		newBudgetCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setup loads the config at path and builds the logger it describes.
func setup(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.PersistentFlags().StringVarP(path, "config", "c", "statline.yaml", "path to config file")
}
