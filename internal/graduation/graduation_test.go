package graduation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/types"
)

func setupStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedOrphan(t *testing.T, store storage.Storage, conversations int) *types.Orphan {
	t.Helper()
	ctx := context.Background()

	orphan, created, err := store.CreateOrGetOrphan(ctx, &types.OrphanDraft{
		Signature:   "payments_checkout_card_declined",
		ProductArea: "payments",
		Component:   "checkout",
		Title:       "Card declined at checkout",
	})
	require.NoError(t, err)
	require.True(t, created)

	for i := 0; i < conversations; i++ {
		convID := string(rune('a' + i))
		err := store.AppendOrphanConversation(ctx, orphan.ID, "conv-"+convID, types.SourceIntercom, "card was declined")
		require.NoError(t, err)
	}

	fresh, err := store.GetOrphan(ctx, orphan.ID)
	require.NoError(t, err)
	return fresh
}

func TestThresholdPolicy(t *testing.T) {
	policy := ThresholdPolicy{MinConversations: 3, MinSources: 2}

	tests := []struct {
		name          string
		conversations []string
		sources       map[string]int
		want          bool
	}{
		{"empty", nil, nil, false},
		{"below conversation threshold", []string{"a", "b"}, map[string]int{"intercom": 2}, false},
		{"enough conversations one source", []string{"a", "b", "c"}, map[string]int{"intercom": 3}, false},
		{"both thresholds met", []string{"a", "b", "c"}, map[string]int{"intercom": 2, "coda": 1}, true},
		{"well past thresholds", []string{"a", "b", "c", "d", "e"}, map[string]int{"intercom": 3, "coda": 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &types.Orphan{ConversationIDs: tt.conversations, SourceStats: tt.sources}
			assert.Equal(t, tt.want, policy.ShouldGraduate(o))
		})
	}
}

func TestThresholdPolicyMonotonic(t *testing.T) {
	policy := DefaultPolicy()
	o := &types.Orphan{
		ConversationIDs: []string{"a", "b", "c"},
		SourceStats:     map[string]int{"intercom": 3},
	}
	require.True(t, policy.ShouldGraduate(o))

	// More evidence never flips the decision back.
	o.ConversationIDs = append(o.ConversationIDs, "d")
	o.SourceStats["coda"] = 1
	assert.True(t, policy.ShouldGraduate(o))
}

func TestGraduateCreatesStoryWithEvidence(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	orphan := seedOrphan(t, store, 3)

	g := NewGraduator(store, DefaultPolicy(), nil)
	require.True(t, g.ShouldGraduate(orphan))

	story, err := g.Graduate(ctx, orphan)
	require.NoError(t, err)
	require.NotNil(t, story)
	assert.Equal(t, orphan.Title, story.Title)
	assert.Equal(t, orphan.ProductArea, story.ProductArea)
	assert.Equal(t, types.StoryStatusOpen, story.Status)

	// The orphan row is now graduated and points at the story.
	updated, err := store.GetOrphan(ctx, orphan.ID)
	require.NoError(t, err)
	require.True(t, updated.Graduated())
	require.NotNil(t, updated.StoryID)
	assert.Equal(t, story.ID, *updated.StoryID)

	// All orphan evidence was copied across.
	evidence, err := store.GetStoryEvidence(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, evidence.EvidenceCount())
	assert.Equal(t, 3, evidence.SourceStats["intercom"])
}

func TestGraduateAlreadyGraduatedReturnsExistingStory(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	orphan := seedOrphan(t, store, 3)

	g := NewGraduator(store, DefaultPolicy(), nil)
	first, err := g.Graduate(ctx, orphan)
	require.NoError(t, err)

	graduated, err := store.GetOrphan(ctx, orphan.ID)
	require.NoError(t, err)

	second, err := g.Graduate(ctx, graduated)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stories, err := store.ListStories(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, stories, 1)
}

func TestGraduateConcurrentWinnerSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	orphan := seedOrphan(t, store, 3)

	// Another worker graduates the orphan after our in-memory read.
	winner := &types.Story{
		ID:     "winner-story",
		Title:  "Card declined at checkout",
		Status: types.StoryStatusOpen,
	}
	require.NoError(t, store.CreateStory(ctx, winner))
	require.NoError(t, store.MarkOrphanGraduated(ctx, orphan.ID, winner.ID))

	g := NewGraduator(store, DefaultPolicy(), nil)
	_, err := g.Graduate(ctx, orphan)
	require.Error(t, err)

	var already *types.AlreadyGraduatedError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, winner.ID, already.ExistingStoryID)

	// The winning graduation is untouched.
	updated, err := store.GetOrphan(ctx, orphan.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.StoryID)
	assert.Equal(t, winner.ID, *updated.StoryID)
}
