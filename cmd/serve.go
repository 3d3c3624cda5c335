package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pricelens/pricelens/internal/api"
	"github.com/pricelens/pricelens/internal/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only HTTP API",
	Long: `Serves product, history, chart, and target endpoints over HTTP. The
server reads the same store the monitor writes; run both to get live data.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		chartCache := openCache()
		if chartCache != nil {
			defer chartCache.Close() //nolint:errcheck
		}

		checks := []monitoring.Check{{Name: "store", Probe: st.Ping}}
		if chartCache != nil {
			checks = append(checks, monitoring.Check{Name: "cache", Probe: chartCache.Ping})
		}

		server := api.NewServer(st, monitoring.NewCollector(st), monitoring.NewHealthChecker(checks...), chartCache, cfg.API)

		return server.Serve(ctx, fmt.Sprintf(":%d", cfg.API.Port))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
