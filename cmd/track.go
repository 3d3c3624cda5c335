package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/sites"
	"github.com/pricelens/pricelens/internal/store"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Manage tracked targets",
	Long:  "Commands for adding, listing, and adjusting the product pages the monitor watches.",
}

// -- track add --

var trackAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Start tracking a product page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		site, _ := cmd.Flags().GetString("site")
		interval, _ := cmd.Flags().GetInt("interval")
		disabled, _ := cmd.Flags().GetBool("disabled")

		if site == "" {
			registry, err := sites.Load()
			if err != nil {
				return err
			}
			site = registry.Match(args[0]).Name
		}

		target := &model.TrackedTarget{
			URL:                  args[0],
			Site:                 site,
			TrackingMode:         model.TrackingModeURL,
			Enabled:              !disabled,
			CheckIntervalMinutes: interval,
		}
		created, err := st.CreateTarget(ctx, target)
		if err != nil {
			return eris.Wrap(err, "track add")
		}

		fmt.Printf("Tracking target %d (%s, every %dm)\n", created.ID, created.Site, created.CheckIntervalMinutes)
		return nil
	},
}

// -- track list --

var trackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked targets",
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

		site, _ := cmd.Flags().GetString("site")
		limit, _ := cmd.Flags().GetInt("limit")
		enabledOnly, _ := cmd.Flags().GetBool("enabled")

		filter := store.TargetFilter{Site: site, Limit: limit}
		if enabledOnly {
			t := true
			filter.Enabled = &t
		}

		targets, err := st.ListTargets(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "track list")
		}

		if len(targets) == 0 {
			fmt.Fprintln(os.Stderr, "No targets found.")
			return nil
		}

		formatTargetList(os.Stdout, targets)
		return nil
	},
}

// -- track show --

var trackShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show full details of a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid target id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		target, err := st.GetTarget(ctx, id)
		if err != nil {
			return eris.Wrap(err, "track show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(target)
	},
}

// -- track enable / disable --

var trackEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTargetEnabled(cmd, args[0], true)
	},
}

var trackDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTargetEnabled(cmd, args[0], false)
	},
}

func setTargetEnabled(cmd *cobra.Command, rawID string, enabled bool) error {
	ctx := cmd.Context()

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return eris.Errorf("invalid target id %q", rawID)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	target, err := st.UpdateTarget(ctx, id, store.TargetUpdate{Enabled: &enabled})
	if err != nil {
		return eris.Wrap(err, "track update")
	}

	state := "disabled"
	if target.Enabled {
		state = "enabled"
	}
	fmt.Printf("Target %d %s\n", target.ID, state)
	return nil
}

// -- track interval --

var trackIntervalCmd = &cobra.Command{
	Use:   "interval <id> <minutes>",
	Short: "Change a target's check interval",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid target id %q", args[0])
		}
		minutes, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Errorf("invalid interval %q", args[1])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		target, err := st.UpdateTarget(ctx, id, store.TargetUpdate{IntervalMinutes: &minutes})
		if err != nil {
			return eris.Wrap(err, "track interval")
		}

		fmt.Printf("Target %d now checked every %dm\n", target.ID, target.CheckIntervalMinutes)
		return nil
	},
}

// -- track remove --

var trackRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop tracking a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid target id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.DeleteTarget(ctx, id); err != nil {
			return eris.Wrap(err, "track remove")
		}

		fmt.Printf("Target %d removed\n", id)
		return nil
	},
}

func init() {
	trackAddCmd.Flags().String("site", "", "registry site name (inferred from the URL when empty)")
	trackAddCmd.Flags().Int("interval", 60, "check interval in minutes")
	trackAddCmd.Flags().Bool("disabled", false, "create the target disabled")

	trackListCmd.Flags().String("site", "", "filter by site name")
	trackListCmd.Flags().Int("limit", 100, "max number of targets to display")
	trackListCmd.Flags().Bool("enabled", false, "show only enabled targets")

	trackCmd.AddCommand(trackAddCmd)
	trackCmd.AddCommand(trackListCmd)
	trackCmd.AddCommand(trackShowCmd)
	trackCmd.AddCommand(trackEnableCmd)
	trackCmd.AddCommand(trackDisableCmd)
	trackCmd.AddCommand(trackIntervalCmd)
	trackCmd.AddCommand(trackRemoveCmd)
	rootCmd.AddCommand(trackCmd)
}

// formatTargetList writes a tabular list of targets to w.
func formatTargetList(out io.Writer, targets []model.TrackedTarget) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSITE\tENABLED\tINTERVAL\tFAILURES\tNEXT_CHECK\tURL")
	for _, t := range targets {
		next := "now"
		if t.NextCheckAt != nil {
			next = t.NextCheckAt.Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%dm\t%d\t%s\t%s\n",
			t.ID, t.Site, t.Enabled, t.CheckIntervalMinutes, t.FailureCounter, next, truncate(t.URL, 60))
	}
	_ = w.Flush()
}

// truncate shortens s for table display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
