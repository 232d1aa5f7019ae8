package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old finished run records",
	Long: `Delete terminal run records (completed, stopped, or failed) older than the
retention window. Orphans and stories are durable domain state and are never
pruned. The window comes from retention.run_retention_days in the config,
overridable with --days.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = cfg.Retention.RunRetentionDays
		}

		ctx := context.Background()
		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		pruned, err := store.PruneRuns(ctx, cutoff)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		if pruned == 0 {
			fmt.Printf("%s\n", gray(fmt.Sprintf("No runs older than %d days", days)))
			return nil
		}
		fmt.Printf("%s Pruned %d run(s) older than %d days\n", green("✓"), pruned, days)
		return nil
	},
}

func init() {
	pruneCmd.Flags().Int("days", 0, "Retention window in days (defaults to the configured retention.run_retention_days)")
	rootCmd.AddCommand(pruneCmd)
}
