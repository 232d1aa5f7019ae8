package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/feedforward/feedforward/internal/types"
)

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List orphan issue clusters",
	Long: `List orphan clusters, most recently seen first.

By default only active (not yet graduated) orphans are shown. Use --graduated
to see clusters that have been promoted into stories, or --all for both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showGraduated, _ := cmd.Flags().GetBool("graduated")
		showAll, _ := cmd.Flags().GetBool("all")
		area, _ := cmd.Flags().GetString("area")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		filter := types.OrphanFilter{ProductArea: area, Limit: limit}
		if !showAll {
			graduated := showGraduated
			filter.Graduated = &graduated
		}

		orphans, err := store.ListOrphans(ctx, filter)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No orphans match"))
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		for _, o := range orphans {
			marker := "○"
			if o.Graduated() {
				marker = green("✓")
			}
			fmt.Printf("%s %s\n", marker, cyan(o.Signature))
			fmt.Printf("  %s\n", o.Title)
			fmt.Printf("  %d conversations, %d sources, last seen %s\n",
				o.ConversationCount(), o.DistinctSources(), o.LastSeenAt.Format("2006-01-02 15:04"))
			if o.Graduated() && o.StoryID != nil {
				fmt.Printf("  Graduated %s -> story %s\n", o.GraduatedAt.Format("2006-01-02"), *o.StoryID)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	orphansCmd.Flags().Bool("graduated", false, "Show graduated orphans instead of active ones")
	orphansCmd.Flags().Bool("all", false, "Show both active and graduated orphans")
	orphansCmd.Flags().String("area", "", "Filter by product area")
	orphansCmd.Flags().Int("limit", 50, "Maximum number of orphans to list")
	rootCmd.AddCommand(orphansCmd)
}
