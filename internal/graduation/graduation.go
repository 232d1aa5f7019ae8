// Package graduation promotes orphan clusters into durable stories.
//
// Graduation is one-way: once an orphan carries a story id, no code path
// unsets it. The decision itself is a pure function of the orphan's evidence
// (the Policy), kept separate from the side-effecting Graduator so thresholds
// can change without touching the promotion mechanics.
package graduation

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/tracker"
	"github.com/feedforward/feedforward/internal/types"
)

// Policy decides whether an orphan has accumulated enough evidence to become
// a story. Implementations must be pure and monotonic: adding evidence never
// flips a true back to false.
type Policy interface {
	ShouldGraduate(o *types.Orphan) bool
}

// ThresholdPolicy graduates an orphan once it has both enough distinct
// conversations and enough distinct sources.
type ThresholdPolicy struct {
	MinConversations int
	MinSources       int
}

// DefaultPolicy returns the standard graduation thresholds.
func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		MinConversations: 3,
		MinSources:       1,
	}
}

// ShouldGraduate reports whether the orphan meets both thresholds.
func (p ThresholdPolicy) ShouldGraduate(o *types.Orphan) bool {
	return o.ConversationCount() >= p.MinConversations &&
		o.DistinctSources() >= p.MinSources
}

// Graduator performs the orphan -> story promotion.
type Graduator struct {
	store   storage.Storage
	policy  Policy
	tracker tracker.Tracker
}

// NewGraduator creates a graduator. A nil tracker disables notifications.
func NewGraduator(store storage.Storage, policy Policy, t tracker.Tracker) *Graduator {
	if t == nil {
		t = tracker.NopTracker{}
	}
	return &Graduator{store: store, policy: policy, tracker: t}
}

// ShouldGraduate applies the configured policy.
func (g *Graduator) ShouldGraduate(o *types.Orphan) bool {
	return g.policy.ShouldGraduate(o)
}

// Graduate promotes an orphan into a new story: creates the story row, copies
// the orphan's evidence onto it, then marks the orphan graduated. Safe to call
// on an already-graduated orphan (returns the existing story). When a
// concurrent graduation wins between our story creation and the mark, the
// error from MarkOrphanGraduated propagates as *types.AlreadyGraduatedError
// and the caller re-routes to the winning story.
func (g *Graduator) Graduate(ctx context.Context, orphan *types.Orphan) (*types.Story, error) {
	if orphan.Graduated() {
		if orphan.StoryID == nil {
			return nil, fmt.Errorf("orphan %d is graduated but has no story id", orphan.ID)
		}
		story, err := g.store.GetStory(ctx, *orphan.StoryID)
		if err != nil {
			return nil, err
		}
		if story == nil {
			return nil, fmt.Errorf("orphan %d points at missing story %s", orphan.ID, *orphan.StoryID)
		}
		return story, nil
	}

	story := &types.Story{
		ID:          uuid.New().String(),
		Title:       orphan.Title,
		Description: describeCluster(orphan),
		ProductArea: orphan.ProductArea,
		Status:      types.StoryStatusOpen,
	}
	if err := g.store.CreateStory(ctx, story); err != nil {
		return nil, fmt.Errorf("failed to create story for orphan %d: %w", orphan.ID, err)
	}

	// Copy the orphan's evidence onto the story before the mark so a crash
	// in between leaves an unmarked orphan that simply re-graduates.
	excerpts, err := g.store.GetOrphanExcerpts(ctx, orphan.ID)
	if err != nil {
		return nil, err
	}
	var snapshot *types.EvidenceSnapshot
	for _, e := range excerpts {
		snapshot, err = g.store.AddStoryEvidence(ctx, story.ID, e.ConversationID, e.Source, e.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to copy evidence to story %s: %w", story.ID, err)
		}
	}

	if err := g.store.MarkOrphanGraduated(ctx, orphan.ID, story.ID); err != nil {
		var already *types.AlreadyGraduatedError
		if errors.As(err, &already) {
			fmt.Fprintf(os.Stderr, "Warning: orphan %d graduated concurrently to story %s, abandoning story %s\n",
				orphan.ID, already.ExistingStoryID, story.ID)
		}
		return nil, err
	}

	if err := g.tracker.StoryCreated(ctx, story, snapshot); err != nil {
		// Tracker sync is best-effort; the story is already durable.
		fmt.Fprintf(os.Stderr, "Warning: tracker notification failed for story %s: %v\n", story.ID, err)
	}

	return story, nil
}

func describeCluster(o *types.Orphan) string {
	return fmt.Sprintf("Recurring issue in %s/%s: %d conversations across %d sources (first seen %s).",
		o.ProductArea, o.Component, o.ConversationCount(), o.DistinctSources(),
		o.FirstSeenAt.Format("2006-01-02"))
}
