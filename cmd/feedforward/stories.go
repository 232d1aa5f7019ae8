package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "List graduated stories",
	Long:  `List stories created by graduation, most recently created first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := context.Background()
		store, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stories, err := store.ListStories(ctx, limit)
		if err != nil {
			return err
		}
		if len(stories) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No stories yet"))
			return nil
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		for _, story := range stories {
			fmt.Printf("%s %s (%s)\n", cyan("📖"), story.Title, story.Status)
			fmt.Printf("  ID:      %s\n", story.ID)
			if story.ProductArea != "" {
				fmt.Printf("  Area:    %s\n", story.ProductArea)
			}
			fmt.Printf("  Created: %s\n", story.CreatedAt.Format("2006-01-02 15:04"))

			snapshot, err := store.GetStoryEvidence(ctx, story.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to load evidence for %s: %v\n", story.ID, err)
			} else {
				fmt.Printf("  Evidence: %d conversations", snapshot.EvidenceCount())
				for source, count := range snapshot.SourceStats {
					fmt.Printf(" %s=%d", source, count)
				}
				fmt.Println()
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	storiesCmd.Flags().Int("limit", 20, "Maximum number of stories to list")
	rootCmd.AddCommand(storiesCmd)
}
