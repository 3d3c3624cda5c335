package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pricelens/pricelens/internal/retention"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete observations older than the retention window",
	Long: `Deletes observations captured before the configured retention cutoff.
When an archive directory is configured the pruned rows are written to a
CSV file there first.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days, _ := cmd.Flags().GetInt("days")
		archiveDir, _ := cmd.Flags().GetString("archive-dir")
		if days == 0 {
			days = cfg.Retention.Days
		}
		if archiveDir == "" {
			archiveDir = cfg.Retention.ArchiveDir
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		result, err := retention.New(st, days, archiveDir).Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Pruned %d observations before %s\n", result.Pruned, result.Cutoff.Local().Format("2006-01-02"))
		if result.ArchivePath != "" {
			fmt.Printf("Archive written to %s\n", result.ArchivePath)
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().Int("days", 0, "retention window in days (defaults to config)")
	pruneCmd.Flags().String("archive-dir", "", "directory for CSV archives (defaults to config)")
	rootCmd.AddCommand(pruneCmd)
}
