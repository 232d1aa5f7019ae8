package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Run.Concurrency = 0 }},
		{"concurrency above max", func(c *Config) { c.Run.Concurrency = MaxConcurrency + 1 }},
		{"zero day range", func(c *Config) { c.Run.DayRange = 0 }},
		{"day range above max", func(c *Config) { c.Run.DayRange = MaxDayRange + 1 }},
		{"zero batch size", func(c *Config) { c.Run.BatchSize = 0 }},
		{"negative fetch rate", func(c *Config) { c.Run.FetchRatePerSecond = -1 }},
		{"zero graduation conversations", func(c *Config) { c.Graduation.MinConversations = 0 }},
		{"graduation sources above max", func(c *Config) { c.Graduation.MinSources = MaxGraduationSources + 1 }},
		{"no storage", func(c *Config) { c.Storage.Path = ""; c.Storage.PostgresURL = "" }},
		{"negative retries", func(c *Config) { c.Classifier.MaxRetries = -1 }},
		{"zero run retention", func(c *Config) { c.Retention.RunRetentionDays = 0 }},
		{"run retention above max", func(c *Config) { c.Retention.RunRetentionDays = MaxRunRetentionDays + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
run:
  concurrency: 8
graduation:
  min_conversations: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Run.Concurrency)
	assert.Equal(t, 5, cfg.Graduation.MinConversations)
	// Untouched fields keep their defaults.
	assert.Equal(t, 7, cfg.Run.DayRange)
	assert.Equal(t, 1, cfg.Graduation.MinSources)
	assert.Equal(t, 30, cfg.Retention.RunRetentionDays)
}

func TestLoadRejectsOutOfBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  concurrency: 100\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
}
