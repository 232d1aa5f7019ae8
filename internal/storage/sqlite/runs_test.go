package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/feedforward/feedforward/internal/types"
)

func createTestRun(t *testing.T, db *SQLiteStorage, id string, status types.RunStatus) {
	t.Helper()
	run := &types.PipelineRun{ID: id, Status: types.RunStatusRunning}
	if err := db.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if status != types.RunStatusRunning {
		if status.IsTerminal() {
			if err := db.FinalizeRun(context.Background(), id, status, types.RunCounts{}, ""); err != nil {
				t.Fatalf("FinalizeRun failed: %v", err)
			}
		} else {
			if _, err := db.TransitionRun(context.Background(), id, types.RunStatusRunning, status); err != nil {
				t.Fatalf("TransitionRun failed: %v", err)
			}
		}
	}
}

func TestCreateAndGetRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-1", types.RunStatusRunning)

	run, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run == nil {
		t.Fatal("Expected run to exist")
	}
	if run.Status != types.RunStatusRunning {
		t.Errorf("Status mismatch: got %s", run.Status)
	}
	if run.CompletedAt != nil {
		t.Error("Running run should have no completed_at")
	}
}

func TestTransitionRunConditional(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-1", types.RunStatusRunning)

	applied, err := db.TransitionRun(ctx, "run-1", types.RunStatusRunning, types.RunStatusStopping)
	if err != nil {
		t.Fatalf("TransitionRun failed: %v", err)
	}
	if !applied {
		t.Error("Expected running -> stopping to apply")
	}

	// Same transition again: the row is no longer in `from`, so it does not apply.
	applied, err = db.TransitionRun(ctx, "run-1", types.RunStatusRunning, types.RunStatusStopping)
	if err != nil {
		t.Fatalf("TransitionRun failed: %v", err)
	}
	if applied {
		t.Error("Transition from a state the run is not in should not apply")
	}
}

func TestFinalizeRunPreservesCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-1", types.RunStatusRunning)

	counts := types.RunCounts{Fetched: 10, Classified: 8, Routed: 7, OrphansCreated: 3, Failed: 1}
	if err := db.FinalizeRun(ctx, "run-1", types.RunStatusCompleted, counts, ""); err != nil {
		t.Fatalf("FinalizeRun failed: %v", err)
	}

	run, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Errorf("Status mismatch: got %s", run.Status)
	}
	if run.CompletedAt == nil {
		t.Error("Finalized run must have completed_at")
	}
	if run.Counts != counts {
		t.Errorf("Counts mismatch: got %+v, want %+v", run.Counts, counts)
	}
}

func TestFinalizeRunTerminalIsImmutable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-1", types.RunStatusCompleted)

	// Finalizing a terminal run again is a no-op, not an error.
	if err := db.FinalizeRun(ctx, "run-1", types.RunStatusFailed, types.RunCounts{}, "boom"); err != nil {
		t.Fatalf("FinalizeRun on terminal run should be a no-op: %v", err)
	}

	run, _ := db.GetRun(ctx, "run-1")
	if run.Status != types.RunStatusCompleted {
		t.Errorf("Terminal run was clobbered: got %s", run.Status)
	}
	if run.ErrorMessage != "" {
		t.Errorf("Terminal run error message was clobbered: %q", run.ErrorMessage)
	}
}

// TestRecoverInterruptedRuns verifies the crash-recovery sweep: runs persisted
// as running or stopping before a restart are force-failed, terminal runs are
// untouched.
func TestRecoverInterruptedRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-running", types.RunStatusRunning)
	createTestRun(t, db, "run-stopping", types.RunStatusStopping)
	createTestRun(t, db, "run-done", types.RunStatusCompleted)

	swept, err := db.RecoverInterruptedRuns(ctx, "process restarted: run interrupted unexpectedly")
	if err != nil {
		t.Fatalf("RecoverInterruptedRuns failed: %v", err)
	}
	if swept != 2 {
		t.Errorf("Expected 2 runs swept, got %d", swept)
	}

	for _, id := range []string{"run-running", "run-stopping"} {
		run, err := db.GetRun(ctx, id)
		if err != nil {
			t.Fatalf("GetRun(%s) failed: %v", id, err)
		}
		if run.Status != types.RunStatusFailed {
			t.Errorf("Run %s: expected failed, got %s", id, run.Status)
		}
		if run.ErrorMessage == "" {
			t.Errorf("Run %s: expected an error message indicating interruption", id)
		}
		if run.CompletedAt == nil {
			t.Errorf("Run %s: expected completed_at set", id)
		}
	}

	done, _ := db.GetRun(ctx, "run-done")
	if done.Status != types.RunStatusCompleted {
		t.Errorf("Completed run was touched by sweep: got %s", done.Status)
	}

	// The sweep is idempotent.
	swept, err = db.RecoverInterruptedRuns(ctx, "process restarted")
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if swept != 0 {
		t.Errorf("Second sweep should touch nothing, got %d", swept)
	}
}

func TestUpdateRunCountsSkipsTerminal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-1", types.RunStatusCompleted)

	if err := db.UpdateRunCounts(ctx, "run-1", types.RunCounts{Fetched: 99}); err != nil {
		t.Fatalf("UpdateRunCounts failed: %v", err)
	}
	run, _ := db.GetRun(ctx, "run-1")
	if run.Counts.Fetched != 0 {
		t.Errorf("Terminal run counts were modified: %+v", run.Counts)
	}
}

func TestPruneRunsDeletesOldTerminalOnly(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-old", types.RunStatusCompleted)
	createTestRun(t, db, "run-recent", types.RunStatusFailed)
	createTestRun(t, db, "run-live", types.RunStatusRunning)

	// Age the first run past the cutoff.
	old := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := db.db.ExecContext(ctx, `UPDATE pipeline_runs SET completed_at = ? WHERE id = ?`, old, "run-old"); err != nil {
		t.Fatalf("Failed to backdate run: %v", err)
	}

	pruned, err := db.PruneRuns(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned run, got %d", pruned)
	}

	gone, err := db.GetRun(ctx, "run-old")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if gone != nil {
		t.Error("Old terminal run should have been pruned")
	}
	for _, id := range []string{"run-recent", "run-live"} {
		run, err := db.GetRun(ctx, id)
		if err != nil {
			t.Fatalf("GetRun(%s) failed: %v", id, err)
		}
		if run == nil {
			t.Errorf("Run %s should have survived pruning", id)
		}
	}

	// Pruning again with the same cutoff removes nothing.
	pruned, err = db.PruneRuns(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Second PruneRuns failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("Second prune should delete nothing, got %d", pruned)
	}
}

func TestPruneRunsNeverTouchesLiveRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestRun(t, db, "run-live", types.RunStatusRunning)
	createTestRun(t, db, "run-stopping", types.RunStatusStopping)

	// A cutoff in the future would catch any terminal row; live rows must
	// still be safe.
	pruned, err := db.PruneRuns(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneRuns failed: %v", err)
	}
	if pruned != 0 {
		t.Errorf("Live runs must never be pruned, got %d", pruned)
	}
}
