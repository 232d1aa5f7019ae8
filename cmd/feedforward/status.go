package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/feedforward/feedforward/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show pipeline run status",
	Long: `Display the status and counts of a specific run, or of the most recent runs
when no run id is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			printRun(run, true)
			return nil
		}

		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No runs recorded"))
			return nil
		}
		for _, run := range runs {
			printRun(run, false)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 10, "Maximum number of runs to list")
	rootCmd.AddCommand(statusCmd)
}

// printRun renders one run; verbose includes the full count breakdown.
func printRun(run *types.PipelineRun, verbose bool) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	statusColor := gray
	statusIcon := "○"
	switch run.Status {
	case types.RunStatusRunning:
		statusColor = green
		statusIcon = "●"
	case types.RunStatusStopping:
		statusColor = yellow
		statusIcon = "◐"
	case types.RunStatusCompleted:
		statusColor = green
		statusIcon = "✓"
	case types.RunStatusFailed:
		statusColor = red
		statusIcon = "✗"
	}

	fmt.Printf("%s %s %s\n", statusColor(statusIcon), run.ID, statusColor(string(run.Status)))
	fmt.Printf("  Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Printf("  Finished: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if run.ErrorMessage != "" {
		fmt.Printf("  Error:    %s\n", red(run.ErrorMessage))
	}

	c := run.Counts
	if verbose {
		fmt.Printf("  Fetched:            %d\n", c.Fetched)
		fmt.Printf("  Classified:         %d\n", c.Classified)
		fmt.Printf("  Themes extracted:   %d\n", c.ThemesExtracted)
		fmt.Printf("  Routed:             %d\n", c.Routed)
		fmt.Printf("  Orphans created:    %d\n", c.OrphansCreated)
		fmt.Printf("  Stories created:    %d\n", c.StoriesCreated)
		fmt.Printf("  Routed to stories:  %d\n", c.RoutedToStory)
		if c.NoEvidenceService > 0 {
			fmt.Printf("  %s %d\n", yellow("Skipped (no evidence service):"), c.NoEvidenceService)
		}
		if c.Failed > 0 {
			fmt.Printf("  %s %d\n", red("Failed:"), c.Failed)
		}
	} else {
		fmt.Printf("  %d fetched, %d routed, %d stories, %d failed\n",
			c.Fetched, c.Routed, c.StoriesCreated, c.Failed)
	}
	fmt.Println()
}
