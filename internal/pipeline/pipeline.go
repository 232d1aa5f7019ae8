// Package pipeline orchestrates ingestion runs: fetch, classify, extract
// themes, and route each conversation through the orphan/story router.
//
// Run state lives in storage, never in memory: status checks re-read the row,
// stop requests are a conditional status update observed at batch boundaries,
// and a startup sweep fails any run whose owning process died.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/feedforward/feedforward/internal/router"
	"github.com/feedforward/feedforward/internal/signature"
	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/types"
)

// ConversationSource yields pages of raw conversations from an upstream
// system (Intercom, Coda). A page may be empty; hasMore signals whether
// another page should be fetched.
type ConversationSource interface {
	FetchPage(ctx context.Context, since time.Time, page int) (conversations []*types.ClassifiedConversation, hasMore bool, err error)
}

// Classifier fills in product area and component for a raw conversation.
// Returning (nil, nil) marks the conversation irrelevant; it is skipped
// without error.
type Classifier interface {
	Classify(ctx context.Context, conv *types.ClassifiedConversation) (*types.ClassifiedConversation, error)
}

// ThemeExtractor produces the per-conversation theme that feeds signature
// canonicalization.
type ThemeExtractor interface {
	ExtractTheme(ctx context.Context, conv *types.ClassifiedConversation) (*types.ExtractedTheme, error)
}

// Config holds pipeline tuning knobs.
type Config struct {
	// DayRange is how many days back to fetch conversations
	DayRange int

	// Concurrency bounds the classification worker pool
	Concurrency int

	// BatchSize is the number of conversations per processing batch
	BatchSize int

	// FetchRatePerSecond throttles the fetch loop
	FetchRatePerSecond float64
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DayRange:           7,
		Concurrency:        4,
		BatchSize:          50,
		FetchRatePerSecond: 2,
	}
}

// Controller owns pipeline run execution and lifecycle.
type Controller struct {
	store      storage.Storage
	router     *router.Router
	source     ConversationSource
	classifier Classifier
	extractor  ThemeExtractor
	cfg        *Config
	limiter    *rate.Limiter

	mu   sync.Mutex
	done map[string]chan struct{}
}

// NewController creates a pipeline controller.
func NewController(store storage.Storage, r *router.Router, source ConversationSource, classifier Classifier, extractor ThemeExtractor, cfg *Config) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Controller{
		store:      store,
		router:     r,
		source:     source,
		classifier: classifier,
		extractor:  extractor,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.FetchRatePerSecond), 1),
		done:       make(map[string]chan struct{}),
	}
}

// StartRun creates a running PipelineRun row and launches the phase loop in a
// goroutine. The returned run id is immediately queryable via GetStatus.
func (c *Controller) StartRun(ctx context.Context) (string, error) {
	run := &types.PipelineRun{
		ID:        uuid.New().String(),
		Status:    types.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.done[run.ID] = done
	c.mu.Unlock()

	// The run outlives the caller's request context: stopping it goes
	// through RequestStop, not context cancellation.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		c.executeRun(runCtx, run.ID)
	}()

	fmt.Printf("Run %s started\n", run.ID)
	return run.ID, nil
}

// RequestStop asks a running run to stop at its next batch boundary.
func (c *Controller) RequestStop(ctx context.Context, runID string) error {
	applied, err := c.store.TransitionRun(ctx, runID, types.RunStatusRunning, types.RunStatusStopping)
	if err != nil {
		return err
	}
	if applied {
		fmt.Printf("Run %s stop requested\n", runID)
		return nil
	}

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	if run.Status == types.RunStatusStopping {
		// Stop already requested; idempotent.
		return nil
	}
	return fmt.Errorf("run %s is %s, cannot stop", runID, run.Status)
}

// GetStatus re-reads the run row from storage.
func (c *Controller) GetStatus(ctx context.Context, runID string) (*types.PipelineRun, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

// Wait blocks until the run's goroutine finishes or the context is done.
// Only runs started by this controller instance can be waited on.
func (c *Controller) Wait(ctx context.Context, runID string) error {
	c.mu.Lock()
	done, ok := c.done[runID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s is not owned by this controller", runID)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverInterruptedRuns fails any run still persisted as running or stopping.
// Call once at process startup, before starting new runs.
func (c *Controller) RecoverInterruptedRuns(ctx context.Context) (int, error) {
	n, err := c.store.RecoverInterruptedRuns(ctx, "run interrupted by process restart")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		fmt.Printf("Recovered %d interrupted run(s)\n", n)
	}
	return n, nil
}

// executeRun drives one run through fetch -> classify -> extract -> route.
// Per-conversation failures are counted and logged, never fatal; only a fetch
// failure or a storage failure updating the run itself fails the run.
func (c *Controller) executeRun(ctx context.Context, runID string) {
	var counts types.RunCounts
	since := time.Now().UTC().AddDate(0, 0, -c.cfg.DayRange)

	var pending []*types.ClassifiedConversation
	page := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			c.failRun(ctx, runID, counts, fmt.Sprintf("fetch rate limiter: %v", err))
			return
		}

		conversations, hasMore, err := c.source.FetchPage(ctx, since, page)
		if err != nil {
			c.failRun(ctx, runID, counts, fmt.Sprintf("fetch page %d: %v", page, err))
			return
		}
		counts.Fetched += len(conversations)
		pending = append(pending, conversations...)
		page++

		// Process full batches as they accumulate; the stop flag is observed
		// here, between batches, never mid-batch.
		for len(pending) >= c.cfg.BatchSize {
			if c.observeStop(ctx, runID, counts) {
				return
			}
			c.processBatch(ctx, runID, pending[:c.cfg.BatchSize], &counts)
			pending = pending[c.cfg.BatchSize:]
		}

		if c.observeStop(ctx, runID, counts) {
			return
		}
		if !hasMore {
			break
		}
	}

	if len(pending) > 0 {
		if c.observeStop(ctx, runID, counts) {
			return
		}
		c.processBatch(ctx, runID, pending, &counts)
	}

	if c.observeStop(ctx, runID, counts) {
		return
	}
	if err := c.store.FinalizeRun(ctx, runID, types.RunStatusCompleted, counts, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to finalize run %s: %v\n", runID, err)
		return
	}
	fmt.Printf("Run %s completed: %d fetched, %d routed, %d stories created, %d failed\n",
		runID, counts.Fetched, counts.Routed, counts.StoriesCreated, counts.Failed)
}

// observeStop checks whether a stop was requested and, if so, finalizes the
// run as stopped with the partial counts. Returns true when the run is over.
func (c *Controller) observeStop(ctx context.Context, runID string, counts types.RunCounts) bool {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read run %s status: %v\n", runID, err)
		return false
	}
	if run == nil || run.Status != types.RunStatusStopping {
		return false
	}

	if err := c.store.FinalizeRun(ctx, runID, types.RunStatusStopped, counts, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to finalize stopped run %s: %v\n", runID, err)
	}
	fmt.Printf("Run %s stopped at batch boundary: %d fetched, %d routed\n",
		runID, counts.Fetched, counts.Routed)
	return true
}

// processBatch classifies, extracts, and routes one batch with bounded
// concurrency. In-flight work always completes; cancellation happens between
// batches, not within them.
func (c *Controller) processBatch(ctx context.Context, runID string, batch []*types.ClassifiedConversation, counts *types.RunCounts) {
	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, conv := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			counts.Failed++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(conv *types.ClassifiedConversation) {
			defer wg.Done()
			defer sem.Release(1)

			outcome, err := c.processConversation(ctx, conv)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				counts.Failed++
				fmt.Fprintf(os.Stderr, "Warning: conversation %s failed: %v\n", conv.ID, err)
				return
			}
			applyOutcome(counts, outcome)
		}(conv)
	}
	wg.Wait()

	if err := c.store.UpdateRunCounts(ctx, runID, *counts); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to persist run counts for %s: %v\n", runID, err)
	}
}

// outcome summarizes what happened to one conversation.
type outcome struct {
	classified     bool
	themeExtracted bool
	result         *router.RouteResult
}

func (c *Controller) processConversation(ctx context.Context, conv *types.ClassifiedConversation) (*outcome, error) {
	classified, err := c.classifier.Classify(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if classified == nil {
		// Irrelevant conversation, skip.
		return &outcome{}, nil
	}

	theme, err := c.extractor.ExtractTheme(ctx, classified)
	if err != nil {
		return nil, fmt.Errorf("extract theme: %w", err)
	}

	sig := signature.Canonicalize(theme.ProductArea, theme.Component, theme.IssueDescriptor)
	result, err := c.router.Route(ctx, sig, classified, theme)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	return &outcome{classified: true, themeExtracted: true, result: result}, nil
}

func applyOutcome(counts *types.RunCounts, o *outcome) {
	if o.classified {
		counts.Classified++
	}
	if o.themeExtracted {
		counts.ThemesExtracted++
	}
	if o.result == nil {
		return
	}
	counts.Routed++
	switch o.result.Action {
	case router.ActionCreated:
		counts.OrphansCreated++
	case router.ActionCreatedAndGraduated:
		counts.OrphansCreated++
		counts.StoriesCreated++
	case router.ActionGraduated:
		counts.StoriesCreated++
	case router.ActionRoutedToStory:
		counts.RoutedToStory++
	case router.ActionNoEvidenceService:
		counts.NoEvidenceService++
	}
}

func (c *Controller) failRun(ctx context.Context, runID string, counts types.RunCounts, reason string) {
	fmt.Fprintf(os.Stderr, "Run %s failed: %s\n", runID, reason)
	if err := c.store.FinalizeRun(ctx, runID, types.RunStatusFailed, counts, reason); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to finalize failed run %s: %v\n", runID, err)
	}
}
