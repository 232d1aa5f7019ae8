// Package postgres provides a PostgreSQL storage backend for deployments
// where multiple pipeline workers share one database. It implements the same
// Storage interface as the SQLite backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/types"
)

// PostgresStorage implements the Storage interface using PostgreSQL
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// Compile-time check that the backend satisfies the interface
var _ storage.Storage = (*PostgresStorage)(nil)

// Config holds PostgreSQL connection configuration
type Config struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "feedforward",
		User:            "feedforward",
		SSLMode:         "prefer",
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage backend with connection pooling
func New(ctx context.Context, cfg *Config) (*PostgresStorage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	return newWithPoolConfig(ctx, poolConfig)
}

// NewFromURL creates a backend from a postgres:// connection URL, using the
// default pool sizing.
func NewFromURL(ctx context.Context, url string) (*PostgresStorage, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	defaults := DefaultConfig()
	poolConfig.MaxConns = defaults.MaxConns
	poolConfig.MinConns = defaults.MinConns
	poolConfig.MaxConnLifetime = defaults.MaxConnLifetime
	poolConfig.MaxConnIdleTime = defaults.MaxConnIdleTime

	return newWithPoolConfig(ctx, poolConfig)
}

func newWithPoolConfig(ctx context.Context, poolConfig *pgxpool.Config) (*PostgresStorage, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// Close releases the connection pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// isUniqueViolation checks for the PostgreSQL unique_violation error code
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func storageErr(op string, err error) error {
	return &types.StorageError{Op: op, Err: err}
}

const schema = `
CREATE TABLE IF NOT EXISTS orphans (
    id BIGSERIAL PRIMARY KEY,
    signature TEXT NOT NULL UNIQUE,
    original_signature TEXT NOT NULL DEFAULT '',
    product_area TEXT NOT NULL DEFAULT '',
    component TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '' CHECK(length(title) <= 500),
    first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    graduated_at TIMESTAMPTZ,
    story_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_orphans_graduated ON orphans(graduated_at);
CREATE INDEX IF NOT EXISTS idx_orphans_product_area ON orphans(product_area);
CREATE INDEX IF NOT EXISTS idx_orphans_last_seen ON orphans(last_seen_at);

CREATE TABLE IF NOT EXISTS orphan_conversations (
    orphan_id BIGINT NOT NULL REFERENCES orphans(id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL,
    source TEXT NOT NULL,
    excerpt TEXT NOT NULL DEFAULT '',
    added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (orphan_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS stories (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    product_area TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'in_progress', 'closed')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status);
CREATE INDEX IF NOT EXISTS idx_stories_created_at ON stories(created_at);

CREATE TABLE IF NOT EXISTS story_evidence (
    story_id TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
    conversation_id TEXT NOT NULL,
    source TEXT NOT NULL,
    excerpt TEXT NOT NULL DEFAULT '',
    added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (story_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'stopping', 'stopped', 'completed', 'failed')),
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    fetched INTEGER NOT NULL DEFAULT 0,
    classified INTEGER NOT NULL DEFAULT 0,
    themes_extracted INTEGER NOT NULL DEFAULT 0,
    routed INTEGER NOT NULL DEFAULT 0,
    orphans_created INTEGER NOT NULL DEFAULT 0,
    stories_created INTEGER NOT NULL DEFAULT 0,
    routed_to_story INTEGER NOT NULL DEFAULT 0,
    no_evidence_service INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
`
