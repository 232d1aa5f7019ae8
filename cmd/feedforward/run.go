package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/feedforward/feedforward/internal/classifier"
	"github.com/feedforward/feedforward/internal/evidence"
	"github.com/feedforward/feedforward/internal/graduation"
	"github.com/feedforward/feedforward/internal/pipeline"
	"github.com/feedforward/feedforward/internal/router"
	"github.com/feedforward/feedforward/internal/tracker"
	"github.com/feedforward/feedforward/internal/types"
)

// noGraduation keeps every orphan active; used for dry runs.
type noGraduation struct{}

func (noGraduation) ShouldGraduate(*types.Orphan) bool { return false }

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an ingestion run",
	Long: `Start a pipeline run: fetch conversations, classify them, extract themes,
and route each one into an orphan cluster or a graduated story.

Conversations are read from a JSONL export file (--input). With --pre-classified
the file's own classification and inline issue descriptors are used and no LLM
calls are made; otherwise each conversation is classified and its theme
extracted via the Anthropic API (requires ANTHROPIC_API_KEY).

Example:
  $ feedforward run --input conversations.jsonl --pre-classified`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		preClassified, _ := cmd.Flags().GetBool("pre-classified")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if input == "" {
			return fmt.Errorf("--input is required")
		}

		ctx := context.Background()
		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		source := pipeline.NewFileSource(input, cfg.Run.BatchSize)

		var convClassifier pipeline.Classifier = source
		var themeExtractor pipeline.ThemeExtractor = source
		if !preClassified {
			retry := classifier.DefaultRetryConfig()
			retry.MaxRetries = cfg.Classifier.MaxRetries
			retry.MaxConcurrentCalls = cfg.Run.Concurrency

			client, err := classifier.NewClient(&classifier.Config{
				Model: cfg.Classifier.Model,
				Retry: retry,
			})
			if err != nil {
				return err
			}
			convClassifier = client
			themeExtractor = client
		}

		var policy graduation.Policy = graduation.ThresholdPolicy{
			MinConversations: cfg.Graduation.MinConversations,
			MinSources:       cfg.Graduation.MinSources,
		}
		if dryRun || cfg.Run.DryRun {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s Dry run: orphans accumulate but no stories will be created\n", yellow("ℹ"))
			policy = noGraduation{}
		}

		graduator := graduation.NewGraduator(store, policy, tracker.NewLogTracker())
		r := router.New(store, evidence.NewAggregator(store), graduator, nil)
		controller := pipeline.NewController(store, r, source, convClassifier, themeExtractor, &pipeline.Config{
			DayRange:           cfg.Run.DayRange,
			Concurrency:        cfg.Run.Concurrency,
			BatchSize:          cfg.Run.BatchSize,
			FetchRatePerSecond: cfg.Run.FetchRatePerSecond,
		})

		// Fail anything a dead process left behind before starting fresh work.
		if _, err := controller.RecoverInterruptedRuns(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: recovery sweep failed: %v\n", err)
		}

		runID, err := controller.StartRun(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Check progress from another terminal with: feedforward status %s\n", runID)

		// The run goroutine lives in this process, so the command blocks
		// until the run reaches a terminal state (including a stop requested
		// via `feedforward stop` from another process).
		if err := controller.Wait(ctx, runID); err != nil {
			return err
		}

		run, err := controller.GetStatus(ctx, runID)
		if err != nil {
			return err
		}
		printRun(run, true)
		if run.Status == types.RunStatusFailed {
			return fmt.Errorf("run %s failed: %s", runID, run.ErrorMessage)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("input", "", "Path to a JSONL conversation export")
	runCmd.Flags().Bool("pre-classified", false, "Trust the export's classification and inline themes (no LLM calls)")
	runCmd.Flags().Bool("dry-run", false, "Route conversations without creating stories")
	rootCmd.AddCommand(runCmd)
}
