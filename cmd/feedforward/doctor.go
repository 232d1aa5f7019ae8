package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/feedforward/feedforward/internal/types"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check FeedForward configuration and environment health",
	Long: `Run health checks to diagnose common configuration and environment issues.

This command checks:
- Configuration validity
- Storage connectivity (SQLite file or Postgres URL)
- Interrupted runs left behind by a crashed process
- ANTHROPIC_API_KEY (needed unless runs use --pre-classified)

Exit codes:
  0 - All checks passed
  1 - One or more checks failed`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running FeedForward health checks...\n\n")

		var failures []string
		var warnings []string

		// Check 1: configuration
		fmt.Printf("%s Configuration\n", cyan("→"))
		if err := cfg.Validate(); err != nil {
			failures = append(failures, fmt.Sprintf("invalid configuration: %v", err))
			fmt.Printf("  %s %v\n", red("✗"), err)
		} else if cfg.Storage.PostgresURL != "" {
			fmt.Printf("  %s Postgres backend configured\n", green("✓"))
		} else {
			fmt.Printf("  %s SQLite backend: %s\n", green("✓"), cfg.Storage.Path)
		}

		// Check 2: storage connectivity
		fmt.Printf("%s Storage connectivity\n", cyan("→"))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := openStorage(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("cannot open storage: %v", err))
			fmt.Printf("  %s %v\n", red("✗"), err)
		} else {
			defer store.Close()
			fmt.Printf("  %s Storage reachable\n", green("✓"))

			// Check 3: interrupted runs
			fmt.Printf("%s Interrupted runs\n", cyan("→"))
			runs, err := store.ListRuns(ctx, 0)
			if err != nil {
				failures = append(failures, fmt.Sprintf("cannot list runs: %v", err))
				fmt.Printf("  %s %v\n", red("✗"), err)
			} else {
				interrupted := 0
				for _, run := range runs {
					if run.Status == types.RunStatusRunning || run.Status == types.RunStatusStopping {
						interrupted++
					}
				}
				if interrupted > 0 {
					warnings = append(warnings, fmt.Sprintf("%d run(s) still marked running/stopping; the next `feedforward run` will sweep them to failed", interrupted))
					fmt.Printf("  %s %d non-terminal run(s) found\n", yellow("⚠"), interrupted)
				} else {
					fmt.Printf("  %s No runs left in a non-terminal state\n", green("✓"))
				}
			}
		}

		// Check 4: SQLite directory writable (skip for Postgres)
		if cfg.Storage.PostgresURL == "" {
			fmt.Printf("%s Data directory\n", cyan("→"))
			dir := filepath.Dir(cfg.Storage.Path)
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				fmt.Printf("  %s %s exists\n", green("✓"), dir)
			} else {
				warnings = append(warnings, fmt.Sprintf("data directory %s does not exist yet (created on first run)", dir))
				fmt.Printf("  %s %s will be created on first run\n", yellow("ℹ"), dir)
			}
		}

		// Check 5: API key
		fmt.Printf("%s Anthropic API key\n", cyan("→"))
		if os.Getenv("ANTHROPIC_API_KEY") != "" {
			fmt.Printf("  %s ANTHROPIC_API_KEY is set\n", green("✓"))
		} else {
			warnings = append(warnings, "ANTHROPIC_API_KEY not set; only --pre-classified runs will work")
			fmt.Printf("  %s ANTHROPIC_API_KEY not set\n", yellow("⚠"))
		}

		fmt.Println()
		for _, w := range warnings {
			fmt.Printf("%s %s\n", yellow("⚠"), w)
		}
		if len(failures) > 0 {
			for _, f := range failures {
				fmt.Printf("%s %s\n", red("✗"), f)
			}
			os.Exit(1)
		}
		fmt.Printf("%s All checks passed\n", green("✓"))
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
