package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/feedforward/feedforward/internal/types"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Request a running pipeline run to stop",
	Long: `Ask a running pipeline run to stop cooperatively.

The run transitions to "stopping" and the owning process finalizes it as
"stopped" at its next batch boundary, preserving partial counts. In-flight
classification calls in the current batch are allowed to complete.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]

		ctx := context.Background()
		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		applied, err := store.TransitionRun(ctx, runID, types.RunStatusRunning, types.RunStatusStopping)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		if applied {
			fmt.Printf("%s Stop requested; run %s will stop at its next batch boundary\n", green("✓"), runID)
			return nil
		}

		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		if run.Status == types.RunStatusStopping {
			fmt.Printf("%s Run %s is already stopping\n", yellow("ℹ"), runID)
			return nil
		}
		return fmt.Errorf("run %s is %s, cannot stop", runID, run.Status)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
