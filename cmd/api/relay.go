package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the outbox relay without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := bootstrap(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("starting outbox relay",
			zap.Int("batch_size", cfg.Outbox.BatchSize),
			zap.Duration("poll_interval", cfg.Outbox.PollInterval),
		)
		return newRelay(env, cfg.Outbox).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
