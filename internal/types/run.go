package types

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusStopping  RunStatus = "stopping"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusRunning, RunStatusStopping, RunStatusStopped,
		RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is final. Terminal runs are immutable.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusStopped, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// RunCounts tracks per-phase progress for a pipeline run. Counts reflect
// partial progress even when a run ends in failed or stopped.
type RunCounts struct {
	Fetched           int `json:"fetched"`
	Classified        int `json:"classified"`
	ThemesExtracted   int `json:"themes_extracted"`
	Routed            int `json:"routed"`
	OrphansCreated    int `json:"orphans_created"`
	StoriesCreated    int `json:"stories_created"`
	RoutedToStory     int `json:"routed_to_story"`
	NoEvidenceService int `json:"no_evidence_service"`
	Failed            int `json:"failed"`
}

// PipelineRun is one ingestion execution. Status is always read fresh from
// storage; no in-memory run state survives a process restart.
type PipelineRun struct {
	ID           string     `json:"id"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Counts       RunCounts  `json:"counts"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Validate checks if the run has valid field values
func (r *PipelineRun) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", r.Status)
	}
	if r.Status.IsTerminal() && r.CompletedAt == nil {
		return fmt.Errorf("terminal run %s must have completed_at set", r.ID)
	}
	return nil
}
