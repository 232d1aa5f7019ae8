// Package router decides where each classified conversation's evidence lands.
//
// Per signature the lifecycle is absent -> active orphan -> graduated, and
// nothing leaves graduated. The router never locks: creation is an idempotent
// insert, and losing the creation race is an expected outcome handled by
// re-branching on the surviving row.
package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/feedforward/feedforward/internal/evidence"
	"github.com/feedforward/feedforward/internal/graduation"
	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/types"
)

// Action describes the outcome of routing one conversation.
type Action string

const (
	// ActionCreated means a new orphan row was created for the signature.
	ActionCreated Action = "created"
	// ActionCreatedAndGraduated means the first evidence already crossed the
	// graduation threshold (possible with a permissive policy).
	ActionCreatedAndGraduated Action = "created_and_graduated"
	// ActionUpdated means evidence was appended to an existing active orphan.
	ActionUpdated Action = "updated"
	// ActionGraduated means this append crossed the threshold and the orphan
	// was promoted into a story.
	ActionGraduated Action = "graduated"
	// ActionRoutedToStory means the signature already graduated; evidence went
	// straight to the story.
	ActionRoutedToStory Action = "routed_to_story"
	// ActionNoEvidenceService means the signature already graduated but no
	// evidence aggregator is wired, so the conversation was counted and
	// skipped rather than attached.
	ActionNoEvidenceService Action = "no_evidence_service"
)

// RouteResult reports what the router did with one conversation.
type RouteResult struct {
	Action   Action
	OrphanID int64
	StoryID  string
}

// Config holds router tuning knobs.
type Config struct {
	// RetryDelay is the backoff before the single retry of a failed storage
	// operation.
	RetryDelay time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RetryDelay: 250 * time.Millisecond,
	}
}

// Router routes classified conversations to orphans or graduated stories.
type Router struct {
	store      storage.Storage
	aggregator *evidence.Aggregator
	graduator  *graduation.Graduator
	retryDelay time.Duration
}

// New creates a router. The aggregator may be nil, in which case evidence for
// graduated signatures is counted as no_evidence_service instead of attached.
func New(store storage.Storage, aggregator *evidence.Aggregator, graduator *graduation.Graduator, cfg *Config) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Router{
		store:      store,
		aggregator: aggregator,
		graduator:  graduator,
		retryDelay: cfg.RetryDelay,
	}
}

// Route processes one (signature, conversation, theme) triple.
//
// Transient storage failures are retried once with a short backoff; a repeat
// failure propagates so the caller can record the conversation as failed and
// continue with the rest of the batch. A graduation conflict with a mismatched
// story id also propagates: it aborts this conversation, never the run.
func (r *Router) Route(ctx context.Context, sig string, conv *types.ClassifiedConversation, theme *types.ExtractedTheme) (*RouteResult, error) {
	if sig == "" {
		return nil, fmt.Errorf("signature is required")
	}
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation: %w", err)
	}

	var existing *types.Orphan
	err := r.withRetry(ctx, "lookup signature", func() error {
		var lookupErr error
		existing, lookupErr = r.store.GetOrphanBySignature(ctx, sig)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}

	if existing == nil {
		draft := &types.OrphanDraft{
			Signature:   sig,
			ProductArea: theme.ProductArea,
			Component:   theme.Component,
			Title:       titleFor(theme),
		}

		var orphan *types.Orphan
		var created bool
		err := r.withRetry(ctx, "create orphan", func() error {
			var createErr error
			orphan, created, createErr = r.store.CreateOrGetOrphan(ctx, draft)
			return createErr
		})
		if err != nil {
			return nil, err
		}

		if created {
			return r.appendAndEvaluate(ctx, orphan, conv, true)
		}
		// Lost the creation race: a concurrent writer's row is now visible.
		// Re-branch on it exactly as if the initial lookup had found it.
		existing = orphan
	}

	if existing.Graduated() {
		return r.routeToStory(ctx, existing, conv)
	}

	return r.appendAndEvaluate(ctx, existing, conv, false)
}

// appendAndEvaluate attaches the conversation to an active orphan and checks
// the graduation policy on the resulting evidence. The policy is evaluated on
// every append, so graduation is a direct consequence of the append that
// crossed the threshold.
func (r *Router) appendAndEvaluate(ctx context.Context, orphan *types.Orphan, conv *types.ClassifiedConversation, justCreated bool) (*RouteResult, error) {
	err := r.withRetry(ctx, "append evidence", func() error {
		return r.store.AppendOrphanConversation(ctx, orphan.ID, conv.ID, conv.Source, conv.BodyExcerpt)
	})
	if err != nil {
		return nil, err
	}

	fresh, err := r.store.GetOrphan(ctx, orphan.ID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, fmt.Errorf("orphan %d disappeared after evidence append", orphan.ID)
	}

	if fresh.Graduated() {
		// Someone else graduated between our branch and the re-read. The
		// evidence is already attached to the orphan row; report the story.
		result := &RouteResult{Action: ActionRoutedToStory, OrphanID: fresh.ID}
		if fresh.StoryID != nil {
			result.StoryID = *fresh.StoryID
		}
		return result, nil
	}

	if !r.graduator.ShouldGraduate(fresh) {
		action := ActionUpdated
		if justCreated {
			action = ActionCreated
		}
		return &RouteResult{Action: action, OrphanID: fresh.ID}, nil
	}

	story, err := r.graduator.Graduate(ctx, fresh)
	if err != nil {
		var already *types.AlreadyGraduatedError
		if errors.As(err, &already) {
			// A concurrent graduation won. The winning story already carries
			// this orphan's evidence; converge on it.
			return &RouteResult{
				Action:   ActionRoutedToStory,
				OrphanID: fresh.ID,
				StoryID:  already.ExistingStoryID,
			}, nil
		}
		return nil, err
	}

	action := ActionGraduated
	if justCreated {
		action = ActionCreatedAndGraduated
	}
	return &RouteResult{Action: action, OrphanID: fresh.ID, StoryID: story.ID}, nil
}

// routeToStory forwards evidence for a graduated signature to its story. The
// orphan row itself stays untouched.
func (r *Router) routeToStory(ctx context.Context, orphan *types.Orphan, conv *types.ClassifiedConversation) (*RouteResult, error) {
	if orphan.StoryID == nil {
		return nil, fmt.Errorf("orphan %d is graduated but has no story id", orphan.ID)
	}
	storyID := *orphan.StoryID

	if r.aggregator == nil {
		// Degraded but non-fatal: counted, never silently dropped.
		return &RouteResult{Action: ActionNoEvidenceService, OrphanID: orphan.ID, StoryID: storyID}, nil
	}

	err := r.withRetry(ctx, "route evidence to story", func() error {
		_, addErr := r.aggregator.AddConversation(ctx, storyID, conv.ID, conv.Source, conv.BodyExcerpt)
		return addErr
	})
	if err != nil {
		return nil, err
	}

	return &RouteResult{Action: ActionRoutedToStory, OrphanID: orphan.ID, StoryID: storyID}, nil
}

// withRetry runs op and retries it once after a short backoff when it fails
// with a transient storage error. Anything else propagates immediately.
func (r *Router) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	var storageErr *types.StorageError
	if !errors.As(err, &storageErr) {
		return err
	}

	fmt.Fprintf(os.Stderr, "Warning: %s failed (%v), retrying once\n", op, err)
	select {
	case <-time.After(r.retryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := fn(); err != nil {
		return fmt.Errorf("%s failed after retry: %w", op, err)
	}
	return nil
}

func titleFor(theme *types.ExtractedTheme) string {
	descriptor := strings.TrimSpace(theme.IssueDescriptor)
	if descriptor == "" {
		descriptor = "uncategorized issue"
	}
	if len(descriptor) > 500 {
		descriptor = descriptor[:500]
	}
	return descriptor
}
