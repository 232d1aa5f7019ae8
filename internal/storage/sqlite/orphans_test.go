package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/feedforward/feedforward/internal/types"
)

func TestCreateOrGetOrphanFreshSignature(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	draft := &types.OrphanDraft{
		Signature:   "pinterest_missing_pins",
		ProductArea: "pinterest",
		Component:   "boards",
		Title:       "Missing pins",
	}

	orphan, created, err := db.CreateOrGetOrphan(ctx, draft)
	if err != nil {
		t.Fatalf("CreateOrGetOrphan failed: %v", err)
	}
	if !created {
		t.Error("Expected created=true for fresh signature")
	}
	if orphan.Signature != draft.Signature {
		t.Errorf("Signature mismatch: got %s, want %s", orphan.Signature, draft.Signature)
	}
	if orphan.OriginalSignature != draft.Signature {
		t.Errorf("OriginalSignature should match signature on creation, got %s", orphan.OriginalSignature)
	}
	if orphan.Graduated() {
		t.Error("Fresh orphan must not be graduated")
	}
	if orphan.ConversationCount() != 0 {
		t.Errorf("Fresh orphan should have no conversations, got %d", orphan.ConversationCount())
	}
}

func TestCreateOrGetOrphanExistingSignature(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	draft := &types.OrphanDraft{Signature: "pinterest_missing_pins"}

	first, created, err := db.CreateOrGetOrphan(ctx, draft)
	if err != nil {
		t.Fatalf("First CreateOrGetOrphan failed: %v", err)
	}
	if !created {
		t.Fatal("Expected created=true for first insert")
	}

	second, created, err := db.CreateOrGetOrphan(ctx, draft)
	if err != nil {
		t.Fatalf("Second CreateOrGetOrphan failed: %v", err)
	}
	if created {
		t.Error("Expected created=false for existing signature")
	}
	if second.ID != first.ID {
		t.Errorf("Expected the surviving row (id %d), got id %d", first.ID, second.ID)
	}
}

// TestCreateOrGetOrphanConcurrent verifies the idempotent-creation property:
// N concurrent creators converge on exactly one row, with N-1 reporting
// created=false, and no uniqueness violation escapes to any caller.
func TestCreateOrGetOrphanConcurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const workers = 10
	draft := &types.OrphanDraft{Signature: "pinterest_missing_pins"}

	var wg sync.WaitGroup
	createdCh := make(chan bool, workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := db.CreateOrGetOrphan(ctx, draft)
			if err != nil {
				errCh <- err
				return
			}
			createdCh <- created
		}()
	}
	wg.Wait()
	close(createdCh)
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent CreateOrGetOrphan returned error: %v", err)
	}

	createdCount := 0
	total := 0
	for created := range createdCh {
		total++
		if created {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Errorf("Expected exactly 1 created=true, got %d of %d", createdCount, total)
	}

	orphans, err := db.ListOrphans(ctx, types.OrphanFilter{})
	if err != nil {
		t.Fatalf("ListOrphans failed: %v", err)
	}
	if len(orphans) != 1 {
		t.Errorf("Expected exactly 1 orphan row, got %d", len(orphans))
	}
}

func TestAppendOrphanConversationDedup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orphan, _, err := db.CreateOrGetOrphan(ctx, &types.OrphanDraft{Signature: "pinterest_missing_pins"})
	if err != nil {
		t.Fatalf("CreateOrGetOrphan failed: %v", err)
	}

	if err := db.AppendOrphanConversation(ctx, orphan.ID, "c1", types.SourceIntercom, "pins are gone"); err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	// Appending the same conversation id again is a no-op, not an error.
	if err := db.AppendOrphanConversation(ctx, orphan.ID, "c1", types.SourceIntercom, "pins are gone"); err != nil {
		t.Fatalf("Duplicate append should not fail: %v", err)
	}
	if err := db.AppendOrphanConversation(ctx, orphan.ID, "c2", types.SourceCoda, "boards empty"); err != nil {
		t.Fatalf("Second conversation append failed: %v", err)
	}

	got, err := db.GetOrphan(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("GetOrphan failed: %v", err)
	}
	if got.ConversationCount() != 2 {
		t.Errorf("Expected 2 distinct conversations, got %d", got.ConversationCount())
	}
	if got.SourceStats["intercom"] != 1 || got.SourceStats["coda"] != 1 {
		t.Errorf("Unexpected source stats: %v", got.SourceStats)
	}
	if !got.LastSeenAt.After(orphan.LastSeenAt) && !got.LastSeenAt.Equal(orphan.LastSeenAt) {
		t.Error("last_seen_at should not move backwards")
	}

	// A duplicate append is a full no-op: last_seen_at must not change.
	if err := db.AppendOrphanConversation(ctx, orphan.ID, "c2", types.SourceCoda, "boards empty"); err != nil {
		t.Fatalf("Duplicate append should not fail: %v", err)
	}
	after, err := db.GetOrphan(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("GetOrphan failed: %v", err)
	}
	if !after.LastSeenAt.Equal(got.LastSeenAt) {
		t.Errorf("Duplicate append must not bump last_seen_at: %v -> %v", got.LastSeenAt, after.LastSeenAt)
	}
	if after.ConversationCount() != 2 {
		t.Errorf("Duplicate append must not add evidence, got %d conversations", after.ConversationCount())
	}
}

func TestGetOrphanExcerpts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orphan, _, err := db.CreateOrGetOrphan(ctx, &types.OrphanDraft{Signature: "pinterest_missing_pins"})
	if err != nil {
		t.Fatalf("CreateOrGetOrphan failed: %v", err)
	}
	if err := db.AppendOrphanConversation(ctx, orphan.ID, "c1", types.SourceIntercom, "pins are gone"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := db.AppendOrphanConversation(ctx, orphan.ID, "c2", types.SourceCoda, "boards empty"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	excerpts, err := db.GetOrphanExcerpts(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("GetOrphanExcerpts failed: %v", err)
	}
	if len(excerpts) != 2 {
		t.Fatalf("Expected 2 excerpts, got %d", len(excerpts))
	}
	if excerpts[0].ConversationID != "c1" || excerpts[0].Text != "pins are gone" {
		t.Errorf("Unexpected first excerpt: %+v", excerpts[0])
	}
	if excerpts[1].Source != types.SourceCoda {
		t.Errorf("Expected coda source on second excerpt, got %s", excerpts[1].Source)
	}

	// No rows for an unknown orphan, but no error either.
	none, err := db.GetOrphanExcerpts(ctx, 9999)
	if err != nil {
		t.Fatalf("GetOrphanExcerpts for missing orphan failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no excerpts for missing orphan, got %d", len(none))
	}
}

func TestAppendOrphanConversationMissingOrphan(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.AppendOrphanConversation(ctx, 9999, "c1", types.SourceIntercom, "")
	if err == nil {
		t.Fatal("Expected error appending to missing orphan")
	}
	var storageErr *types.StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("Expected StorageError, got %T: %v", err, err)
	}
}

func TestMarkOrphanGraduatedOneWay(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orphan, _, err := db.CreateOrGetOrphan(ctx, &types.OrphanDraft{Signature: "pinterest_missing_pins"})
	if err != nil {
		t.Fatalf("CreateOrGetOrphan failed: %v", err)
	}

	if err := db.MarkOrphanGraduated(ctx, orphan.ID, "story-1"); err != nil {
		t.Fatalf("MarkOrphanGraduated failed: %v", err)
	}

	// Idempotent retry with the same story id.
	if err := db.MarkOrphanGraduated(ctx, orphan.ID, "story-1"); err != nil {
		t.Errorf("Retry with same story id should succeed: %v", err)
	}

	// A different story id is an integrity error.
	err = db.MarkOrphanGraduated(ctx, orphan.ID, "story-2")
	if err == nil {
		t.Fatal("Expected AlreadyGraduatedError for mismatched story id")
	}
	var gradErr *types.AlreadyGraduatedError
	if !errors.As(err, &gradErr) {
		t.Fatalf("Expected AlreadyGraduatedError, got %T: %v", err, err)
	}
	if gradErr.ExistingStoryID != "story-1" {
		t.Errorf("ExistingStoryID mismatch: got %s, want story-1", gradErr.ExistingStoryID)
	}

	// The row still points at the original story.
	got, err := db.GetOrphan(ctx, orphan.ID)
	if err != nil {
		t.Fatalf("GetOrphan failed: %v", err)
	}
	if !got.Graduated() {
		t.Error("Orphan should remain graduated")
	}
	if got.StoryID == nil || *got.StoryID != "story-1" {
		t.Errorf("StoryID changed: got %v, want story-1", got.StoryID)
	}
}

// Graduated rows must remain visible by signature: the router branches on
// GraduatedAt rather than the store filtering them out.
func TestGetOrphanBySignatureReturnsGraduated(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orphan, _, err := db.CreateOrGetOrphan(ctx, &types.OrphanDraft{Signature: "pinterest_missing_pins"})
	if err != nil {
		t.Fatalf("CreateOrGetOrphan failed: %v", err)
	}
	if err := db.MarkOrphanGraduated(ctx, orphan.ID, "story-1"); err != nil {
		t.Fatalf("MarkOrphanGraduated failed: %v", err)
	}

	got, err := db.GetOrphanBySignature(ctx, "pinterest_missing_pins")
	if err != nil {
		t.Fatalf("GetOrphanBySignature failed: %v", err)
	}
	if got == nil {
		t.Fatal("Graduated orphan must still be returned by signature lookup")
	}
	if !got.Graduated() {
		t.Error("Expected graduated orphan")
	}
}

func TestGetOrphanBySignatureAbsent(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetOrphanBySignature(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetOrphanBySignature failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for absent signature, got %+v", got)
	}
}

func TestListOrphansFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, _, _ := db.CreateOrGetOrphan(ctx, &types.OrphanDraft{Signature: "sig_a", ProductArea: "pinterest"})
	_, _, _ = db.CreateOrGetOrphan(ctx, &types.OrphanDraft{Signature: "sig_b", ProductArea: "instagram"})
	if err := db.MarkOrphanGraduated(ctx, a.ID, "story-1"); err != nil {
		t.Fatalf("MarkOrphanGraduated failed: %v", err)
	}

	graduated := true
	got, err := db.ListOrphans(ctx, types.OrphanFilter{Graduated: &graduated})
	if err != nil {
		t.Fatalf("ListOrphans failed: %v", err)
	}
	if len(got) != 1 || got[0].Signature != "sig_a" {
		t.Errorf("Expected only graduated sig_a, got %d rows", len(got))
	}

	got, err = db.ListOrphans(ctx, types.OrphanFilter{ProductArea: "instagram"})
	if err != nil {
		t.Fatalf("ListOrphans failed: %v", err)
	}
	if len(got) != 1 || got[0].Signature != "sig_b" {
		t.Errorf("Expected only instagram sig_b, got %d rows", len(got))
	}
}
