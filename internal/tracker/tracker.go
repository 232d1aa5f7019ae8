// Package tracker notifies an external story tracker when orphans graduate.
//
// Tracker sync is best-effort: a failed notification is logged and never
// blocks or rolls back graduation, since the story row is already durable.
package tracker

import (
	"context"
	"fmt"

	"github.com/feedforward/feedforward/internal/types"
)

// Tracker receives story lifecycle notifications.
type Tracker interface {
	// StoryCreated is called once per graduation, after the story and its
	// evidence are durable.
	StoryCreated(ctx context.Context, story *types.Story, evidence *types.EvidenceSnapshot) error
}

// LogTracker prints graduation notifications to stdout. It is the default
// tracker when no external integration is configured.
type LogTracker struct{}

// NewLogTracker creates a logging tracker.
func NewLogTracker() *LogTracker {
	return &LogTracker{}
}

// StoryCreated logs the new story.
func (t *LogTracker) StoryCreated(_ context.Context, story *types.Story, evidence *types.EvidenceSnapshot) error {
	count := 0
	if evidence != nil {
		count = evidence.EvidenceCount()
	}
	fmt.Printf("📖 Story created: %s (%s, %d conversations)\n", story.Title, story.ID, count)
	return nil
}

// NopTracker discards all notifications. Useful in tests.
type NopTracker struct{}

// StoryCreated is a no-op.
func (NopTracker) StoryCreated(context.Context, *types.Story, *types.EvidenceSnapshot) error {
	return nil
}
