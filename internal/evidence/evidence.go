// Package evidence accumulates conversation references on stories.
//
// Evidence only ever grows: a conversation id is attached at most once per
// story, and nothing here removes evidence. Dedup happens in a single
// conditional SQL append inside storage, so two workers attaching the same
// conversation concurrently both succeed and exactly one row lands.
package evidence

import (
	"context"
	"fmt"

	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/types"
)

// Aggregator attaches conversation evidence to stories.
type Aggregator struct {
	store storage.Storage
}

// NewAggregator creates an aggregator backed by the given store.
func NewAggregator(store storage.Storage) *Aggregator {
	return &Aggregator{store: store}
}

// AddConversation attaches a conversation to a story's evidence and returns
// the resulting snapshot. Idempotent: re-adding a conversation id returns the
// unchanged snapshot without error.
func (a *Aggregator) AddConversation(ctx context.Context, storyID, conversationID string, source types.Source, excerpt string) (*types.EvidenceSnapshot, error) {
	if storyID == "" {
		return nil, fmt.Errorf("story id is required")
	}
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if !source.IsValid() {
		return nil, fmt.Errorf("invalid source: %s", source)
	}

	snapshot, err := a.store.AddStoryEvidence(ctx, storyID, conversationID, source, excerpt)
	if err != nil {
		return nil, fmt.Errorf("failed to add evidence to story %s: %w", storyID, err)
	}
	return snapshot, nil
}

// Snapshot returns the story's current evidence.
func (a *Aggregator) Snapshot(ctx context.Context, storyID string) (*types.EvidenceSnapshot, error) {
	if storyID == "" {
		return nil, fmt.Errorf("story id is required")
	}
	return a.store.GetStoryEvidence(ctx, storyID)
}
