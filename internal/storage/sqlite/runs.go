package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/feedforward/feedforward/internal/types"
)

// CreateRun inserts a new pipeline run row
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.PipelineRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if !run.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", run.Status)
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, status, started_at, error_message)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Status, run.StartedAt, run.ErrorMessage)
	if err != nil {
		return storageErr("create run", err)
	}
	return nil
}

// GetRun retrieves a pipeline run by id, or (nil, nil) when absent
func (s *SQLiteStorage) GetRun(ctx context.Context, runID string) (*types.PipelineRun, error) {
	run, err := s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, completed_at,
		       fetched, classified, themes_extracted, routed,
		       orphans_created, stories_created, routed_to_story,
		       no_evidence_service, failed, error_message
		FROM pipeline_runs
		WHERE id = ?
	`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get run", err)
	}
	return run, nil
}

// ListRuns returns runs most recently started first
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*types.PipelineRun, error) {
	limitSQL := ""
	if limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, started_at, completed_at,
		       fetched, classified, themes_extracted, routed,
		       orphans_created, stories_created, routed_to_story,
		       no_evidence_service, failed, error_message
		FROM pipeline_runs
		ORDER BY started_at DESC
	`+limitSQL)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	defer rows.Close()

	var runs []*types.PipelineRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, storageErr("list runs", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list runs", err)
	}
	return runs, nil
}

func (s *SQLiteStorage) scanRun(row rowScanner) (*types.PipelineRun, error) {
	var run types.PipelineRun
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.Status, &run.StartedAt, &completedAt,
		&run.Counts.Fetched, &run.Counts.Classified, &run.Counts.ThemesExtracted,
		&run.Counts.Routed, &run.Counts.OrphansCreated, &run.Counts.StoriesCreated,
		&run.Counts.RoutedToStory, &run.Counts.NoEvidenceService, &run.Counts.Failed,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// UpdateRunCounts persists the run's progress counters. Terminal rows are
// immutable and never touched.
func (s *SQLiteStorage) UpdateRunCounts(ctx context.Context, runID string, counts types.RunCounts) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET fetched = ?, classified = ?, themes_extracted = ?, routed = ?,
		    orphans_created = ?, stories_created = ?, routed_to_story = ?,
		    no_evidence_service = ?, failed = ?
		WHERE id = ? AND status IN ('running', 'stopping')
	`,
		counts.Fetched, counts.Classified, counts.ThemesExtracted, counts.Routed,
		counts.OrphansCreated, counts.StoriesCreated, counts.RoutedToStory,
		counts.NoEvidenceService, counts.Failed, runID,
	)
	if err != nil {
		return storageErr("update run counts", err)
	}
	return nil
}

// TransitionRun performs a conditional status update: only a row currently in
// `from` is touched. Returns whether the transition applied, so concurrent
// transitions (stop request racing completion) resolve without clobbering.
func (s *SQLiteStorage) TransitionRun(ctx context.Context, runID string, from, to types.RunStatus) (bool, error) {
	if !from.IsValid() || !to.IsValid() {
		return false, fmt.Errorf("invalid run status transition %s -> %s", from, to)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET status = ? WHERE id = ? AND status = ?
	`, to, runID, from)
	if err != nil {
		return false, storageErr("transition run", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("transition run", err)
	}
	return rows > 0, nil
}

// FinalizeRun moves a non-terminal run into a terminal state with its final
// counts and completion timestamp. A run already terminal is left untouched.
func (s *SQLiteStorage) FinalizeRun(ctx context.Context, runID string, status types.RunStatus, counts types.RunCounts, errorMessage string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finalize requires a terminal status, got %s", status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = ?, completed_at = ?, error_message = ?,
		    fetched = ?, classified = ?, themes_extracted = ?, routed = ?,
		    orphans_created = ?, stories_created = ?, routed_to_story = ?,
		    no_evidence_service = ?, failed = ?
		WHERE id = ? AND status IN ('running', 'stopping')
	`,
		status, time.Now().UTC(), errorMessage,
		counts.Fetched, counts.Classified, counts.ThemesExtracted, counts.Routed,
		counts.OrphansCreated, counts.StoriesCreated, counts.RoutedToStory,
		counts.NoEvidenceService, counts.Failed, runID,
	)
	if err != nil {
		return storageErr("finalize run", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("finalize run", err)
	}
	if rows == 0 {
		// Re-read to distinguish missing from already-terminal.
		run, err := s.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return storageErr("finalize run", fmt.Errorf("run %s not found", runID))
		}
		// Already terminal: a concurrent finalizer (or the recovery sweep)
		// got there first. Not an error.
		return nil
	}
	return nil
}

// RecoverInterruptedRuns force-fails any run still persisted as running or
// stopping. No in-memory owner can exist for those runs after a restart. The
// conditional WHERE makes the sweep idempotent and keeps it away from rows
// that reached a terminal state concurrently.
func (s *SQLiteStorage) RecoverInterruptedRuns(ctx context.Context, reason string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = 'failed', completed_at = ?, error_message = ?
		WHERE status IN ('running', 'stopping')
	`, time.Now().UTC(), reason)
	if err != nil {
		return 0, storageErr("recover interrupted runs", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("recover interrupted runs", err)
	}
	return int(rows), nil
}

// PruneRuns deletes terminal runs that completed before the cutoff. The
// status guard keeps live rows safe even if completed_at were somehow set.
func (s *SQLiteStorage) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM pipeline_runs
		WHERE status IN ('completed', 'stopped', 'failed')
		  AND completed_at IS NOT NULL
		  AND completed_at < ?
	`, before.UTC())
	if err != nil {
		return 0, storageErr("prune runs", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("prune runs", err)
	}
	return int(rows), nil
}
