package evidence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedforward/feedforward/internal/storage"
	"github.com/feedforward/feedforward/internal/types"
)

func setupAggregator(t *testing.T) (*Aggregator, storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewAggregator(store), store
}

func createStory(t *testing.T, store storage.Storage) *types.Story {
	t.Helper()
	story := &types.Story{
		ID:     "story-1",
		Title:  "Card declined at checkout",
		Status: types.StoryStatusOpen,
	}
	require.NoError(t, store.CreateStory(context.Background(), story))
	return story
}

func TestAddConversationAccumulates(t *testing.T) {
	ctx := context.Background()
	agg, store := setupAggregator(t)
	story := createStory(t, store)

	snapshot, err := agg.AddConversation(ctx, story.ID, "c1", types.SourceIntercom, "card was declined")
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.EvidenceCount())

	snapshot, err = agg.AddConversation(ctx, story.ID, "c2", types.SourceCoda, "payment failure note")
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.EvidenceCount())
	assert.Equal(t, 1, snapshot.SourceStats["intercom"])
	assert.Equal(t, 1, snapshot.SourceStats["coda"])
	assert.Len(t, snapshot.Excerpts, 2)
}

func TestAddConversationIdempotent(t *testing.T) {
	ctx := context.Background()
	agg, store := setupAggregator(t)
	story := createStory(t, store)

	first, err := agg.AddConversation(ctx, story.ID, "c1", types.SourceIntercom, "card was declined")
	require.NoError(t, err)

	// Re-adding the same conversation id changes nothing.
	second, err := agg.AddConversation(ctx, story.ID, "c1", types.SourceIntercom, "card was declined")
	require.NoError(t, err)
	assert.Equal(t, first.EvidenceCount(), second.EvidenceCount())
	assert.Equal(t, first.SourceStats, second.SourceStats)
}

func TestAddConversationValidation(t *testing.T) {
	ctx := context.Background()
	agg, store := setupAggregator(t)
	story := createStory(t, store)

	_, err := agg.AddConversation(ctx, "", "c1", types.SourceIntercom, "")
	assert.Error(t, err)
	_, err = agg.AddConversation(ctx, story.ID, "", types.SourceIntercom, "")
	assert.Error(t, err)
	_, err = agg.AddConversation(ctx, story.ID, "c1", types.Source("fax"), "")
	assert.Error(t, err)
}

func TestAddConversationMissingStory(t *testing.T) {
	agg, _ := setupAggregator(t)
	_, err := agg.AddConversation(context.Background(), "no-such-story", "c1", types.SourceIntercom, "")
	require.Error(t, err)

	var storageErr *types.StorageError
	assert.ErrorAs(t, err, &storageErr)
}
