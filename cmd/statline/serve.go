package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statline-ai/statline/pkg/pipeline"
	"github.com/statline-ai/statline/pkg/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stack, err := pipeline.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := stack.Close(); err != nil {
					logger.Warn("close", zap.Error(err))
				}
			}()

			logger.Info("starting statline", zap.String("config", configPath), zap.String("version", version))
			srv := server.New(cfg.Listen, stack.Pipeline, stack.Ledger, logger.Named("server"))
			return srv.ListenAndServe(ctx)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
