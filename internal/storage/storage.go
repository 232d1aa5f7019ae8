package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/feedforward/feedforward/internal/storage/sqlite"
	"github.com/feedforward/feedforward/internal/types"
)

// Storage defines the interface for orphan/story/run storage backends.
// All orphan and story mutation in the system goes through this interface;
// no component writes rows directly.
type Storage interface {
	// Orphans
	//
	// GetOrphanBySignature returns the orphan row for a signature regardless
	// of active/graduated state. Callers must branch on GraduatedAt: filtering
	// graduated rows out here is what caused the duplicate-key cascade this
	// design replaces. Returns (nil, nil) when no row exists.
	GetOrphanBySignature(ctx context.Context, signature string) (*types.Orphan, error)
	GetOrphan(ctx context.Context, orphanID int64) (*types.Orphan, error)

	// CreateOrGetOrphan attempts an idempotent insert keyed by signature.
	// When a concurrent insert already landed, it re-reads and returns the
	// existing row with created=false. A signature conflict never escapes
	// this method as an error.
	CreateOrGetOrphan(ctx context.Context, draft *types.OrphanDraft) (orphan *types.Orphan, created bool, err error)

	// AppendOrphanConversation appends a conversation reference and bumps
	// last_seen_at. A conversation id already present is a full no-op (not an
	// error, and last_seen_at is left untouched).
	AppendOrphanConversation(ctx context.Context, orphanID int64, conversationID string, source types.Source, excerpt string) error

	// MarkOrphanGraduated is a one-way transition. It is idempotent for the
	// same story id (supports retry) and returns *AlreadyGraduatedError when
	// called with a different one.
	MarkOrphanGraduated(ctx context.Context, orphanID int64, storyID string) error

	// GetOrphanExcerpts returns the per-conversation evidence rows attached to
	// an orphan, in the order they were added. Used at graduation time to copy
	// the orphan's evidence onto the new story.
	GetOrphanExcerpts(ctx context.Context, orphanID int64) ([]types.Excerpt, error)

	ListOrphans(ctx context.Context, filter types.OrphanFilter) ([]*types.Orphan, error)

	// Stories
	CreateStory(ctx context.Context, story *types.Story) error
	GetStory(ctx context.Context, storyID string) (*types.Story, error)
	ListStories(ctx context.Context, limit int) ([]*types.Story, error)

	// Story evidence. AddStoryEvidence deduplicates by conversation id with a
	// single atomic insert-if-absent statement and returns the resulting
	// snapshot.
	AddStoryEvidence(ctx context.Context, storyID, conversationID string, source types.Source, excerpt string) (*types.EvidenceSnapshot, error)
	GetStoryEvidence(ctx context.Context, storyID string) (*types.EvidenceSnapshot, error)

	// Pipeline runs
	CreateRun(ctx context.Context, run *types.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*types.PipelineRun, error)
	ListRuns(ctx context.Context, limit int) ([]*types.PipelineRun, error)
	UpdateRunCounts(ctx context.Context, runID string, counts types.RunCounts) error

	// TransitionRun performs a conditional status update (only rows currently
	// in `from` are touched) and reports whether the transition applied.
	TransitionRun(ctx context.Context, runID string, from, to types.RunStatus) (bool, error)

	// FinalizeRun moves a non-terminal run into a terminal state with its
	// final counts. Terminal rows are never modified.
	FinalizeRun(ctx context.Context, runID string, status types.RunStatus, counts types.RunCounts, errorMessage string) error

	// RecoverInterruptedRuns force-fails any run still marked running or
	// stopping. Called once at process startup; the process that owned those
	// runs no longer exists. Idempotent, never touches terminal rows.
	RecoverInterruptedRuns(ctx context.Context, reason string) (int, error)

	// PruneRuns deletes terminal runs that completed before the cutoff and
	// returns how many were removed. Non-terminal rows are never touched.
	PruneRuns(ctx context.Context, before time.Time) (int, error)

	// Lifecycle
	Close() error
}

// Compile-time check that the SQLite backend satisfies the interface.
// The Postgres backend asserts this itself to keep pgx out of this package's
// import graph for sqlite-only builds.
var _ Storage = (*sqlite.SQLiteStorage)(nil)

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".feedforward/feedforward.db"
	// Note: a plain ":memory:" path does not survive database/sql connection
	// pooling (each pooled connection gets its own empty database); tests use
	// a file under t.TempDir() instead.
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".feedforward/feedforward.db",
	}
}

// NewStorage creates a new SQLite storage backend. The Postgres backend is
// constructed directly via postgres.New by callers that need it.
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Path == "" {
		cfg.Path = ".feedforward/feedforward.db"
	}

	store, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
	}
	return store, nil
}
