package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pricelens/pricelens/internal/monitoring"
	"github.com/pricelens/pricelens/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store counts and recent cycle activity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx)
		if err != nil {
			return err
		}

		checks := []monitoring.Check{{Name: "store", Probe: st.Ping}}
		if chartCache := openCache(); chartCache != nil {
			defer chartCache.Close() //nolint:errcheck
			checks = append(checks, monitoring.Check{Name: "cache", Probe: chartCache.Ping})
		}
		components, healthy := monitoring.NewHealthChecker(checks...).Run(ctx)

		state := "healthy"
		if !healthy {
			state = "degraded"
		}
		fmt.Printf("Health:          %s\n", state)
		for _, c := range components {
			if !c.Healthy {
				fmt.Printf("  %s: %s\n", c.Name, c.Error)
			}
		}
		fmt.Printf("Products:        %d\n", snap.Products)
		fmt.Printf("Observations:    %d\n", snap.Observations)
		fmt.Printf("Targets:         %d (%d enabled, %d due)\n", snap.Targets, snap.EnabledTargets, snap.DueTargets)
		fmt.Printf("Failure rate:    %.1f%% over last %d cycles\n\n", snap.FailureRate*100, len(snap.RecentCycles))

		if len(snap.RecentCycles) > 0 {
			formatCycles(os.Stdout, snap.RecentCycles)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatCycles writes a tabular list of recent cycle runs to w.
func formatCycles(out io.Writer, cycles []store.CycleRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tDURATION\tTOTAL\tOK\tFAILED\tABORTED")
	for _, c := range cycles {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%t\n",
			c.StartedAt.Local().Format(time.DateTime),
			c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond),
			c.Total, c.Successful, c.Failed, c.Aborted)
	}
	_ = w.Flush()
}
