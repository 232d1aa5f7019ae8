// feedforward ingests classified customer-support conversations, clusters
// them into signature-keyed orphans, and graduates well-evidenced orphans
// into stories.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/feedforward/feedforward/internal/config"
	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/storage/postgres"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "feedforward",
	Short: "Customer feedback clustering and story lifecycle pipeline",
	Long: `FeedForward ingests classified customer-support conversations, aggregates
them into signature-keyed orphan clusters, and graduates sufficiently-evidenced
orphans into durable stories.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			cfg = config.DefaultConfig()
			return nil
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// openStorage opens the configured backend: Postgres when a URL is set,
// SQLite otherwise.
func openStorage(ctx context.Context) (storage.Storage, error) {
	if cfg.Storage.PostgresURL != "" {
		return postgres.NewFromURL(ctx, cfg.Storage.PostgresURL)
	}
	return storage.NewStorage(ctx, &storage.Config{Path: cfg.Storage.Path})
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (defaults apply when omitted)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
