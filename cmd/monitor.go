package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var monitorOnce bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the price observation loop",
	Long: `Runs scheduled price checks against all enabled targets. Each cycle
fetches due targets, records observations, and publishes detected price
changes. Runs until interrupted unless --once is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initMonitor(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if monitorOnce {
			stats, err := env.engine.RunCycle(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("cycle finished",
				zap.Int("total", stats.Total),
				zap.Int("successful", stats.Successful),
				zap.Int("failed", stats.Failed),
				zap.Bool("aborted", stats.Aborted))
			return nil
		}

		zap.L().Info("monitor started",
			zap.Int("workers", cfg.Monitor.Workers),
			zap.Int("interval_minutes", cfg.Monitor.IntervalMinutes))
		if err := env.engine.RunLoop(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		zap.L().Info("monitor stopped")
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single cycle and exit")
	rootCmd.AddCommand(monitorCmd)
}
