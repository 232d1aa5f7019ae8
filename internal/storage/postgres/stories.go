package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/feedforward/feedforward/internal/types"
)

// CreateStory inserts a new story row
func (s *PostgresStorage) CreateStory(ctx context.Context, story *types.Story) error {
	if err := story.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	story.CreatedAt = now
	story.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO stories (id, title, description, product_area, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, story.ID, story.Title, story.Description, story.ProductArea, story.Status, story.CreatedAt, story.UpdatedAt)
	if err != nil {
		return storageErr("create story", err)
	}
	return nil
}

// GetStory retrieves a story by id, or (nil, nil) when absent
func (s *PostgresStorage) GetStory(ctx context.Context, storyID string) (*types.Story, error) {
	var story types.Story
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, description, product_area, status, created_at, updated_at
		FROM stories
		WHERE id = $1
	`, storyID).Scan(
		&story.ID, &story.Title, &story.Description, &story.ProductArea,
		&story.Status, &story.CreatedAt, &story.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get story", err)
	}
	return &story, nil
}

// ListStories returns stories most recently created first
func (s *PostgresStorage) ListStories(ctx context.Context, limit int) ([]*types.Story, error) {
	limitSQL := ""
	if limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, product_area, status, created_at, updated_at
		FROM stories
		ORDER BY created_at DESC
	`+limitSQL)
	if err != nil {
		return nil, storageErr("list stories", err)
	}
	defer rows.Close()

	var stories []*types.Story
	for rows.Next() {
		var story types.Story
		err := rows.Scan(
			&story.ID, &story.Title, &story.Description, &story.ProductArea,
			&story.Status, &story.CreatedAt, &story.UpdatedAt,
		)
		if err != nil {
			return nil, storageErr("list stories", err)
		}
		stories = append(stories, &story)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list stories", err)
	}
	return stories, nil
}

// AddStoryEvidence appends a conversation reference with atomic dedup
// (ON CONFLICT DO NOTHING) and returns the resulting snapshot
func (s *PostgresStorage) AddStoryEvidence(ctx context.Context, storyID, conversationID string, source types.Source, excerpt string) (*types.EvidenceSnapshot, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("add story evidence", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO story_evidence (story_id, conversation_id, source, excerpt)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (story_id, conversation_id) DO NOTHING
	`, storyID, conversationID, string(source), excerpt)
	if err != nil {
		return nil, storageErr("add story evidence", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE stories SET updated_at = NOW() WHERE id = $1
	`, storyID)
	if err != nil {
		return nil, storageErr("add story evidence", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storageErr("add story evidence", fmt.Errorf("story %s not found", storyID))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("add story evidence", err)
	}

	return s.GetStoryEvidence(ctx, storyID)
}

// GetStoryEvidence assembles the evidence snapshot for a story
func (s *PostgresStorage) GetStoryEvidence(ctx context.Context, storyID string) (*types.EvidenceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, source, excerpt, added_at
		FROM story_evidence
		WHERE story_id = $1
		ORDER BY added_at, conversation_id
	`, storyID)
	if err != nil {
		return nil, storageErr("get story evidence", err)
	}
	defer rows.Close()

	snapshot := &types.EvidenceSnapshot{
		StoryID:         storyID,
		ConversationIDs: []string{},
		SourceStats:     map[string]int{},
		Excerpts:        []types.Excerpt{},
	}
	for rows.Next() {
		var convID, source, excerpt string
		var addedAt time.Time
		if err := rows.Scan(&convID, &source, &excerpt, &addedAt); err != nil {
			return nil, storageErr("get story evidence", err)
		}
		snapshot.ConversationIDs = append(snapshot.ConversationIDs, convID)
		snapshot.SourceStats[source]++
		if excerpt != "" {
			snapshot.Excerpts = append(snapshot.Excerpts, types.Excerpt{
				ConversationID: convID,
				Source:         types.Source(source),
				Text:           excerpt,
			})
		}
		if addedAt.After(snapshot.UpdatedAt) {
			snapshot.UpdatedAt = addedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get story evidence", err)
	}
	return snapshot, nil
}
