package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/feedforward/feedforward/internal/types"
)

// CreateStory inserts a new story row
func (s *SQLiteStorage) CreateStory(ctx context.Context, story *types.Story) error {
	if err := story.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	story.CreatedAt = now
	story.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (id, title, description, product_area, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, story.ID, story.Title, story.Description, story.ProductArea, story.Status, story.CreatedAt, story.UpdatedAt)
	if err != nil {
		return storageErr("create story", err)
	}
	return nil
}

// GetStory retrieves a story by id, or (nil, nil) when absent
func (s *SQLiteStorage) GetStory(ctx context.Context, storyID string) (*types.Story, error) {
	var story types.Story
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, product_area, status, created_at, updated_at
		FROM stories
		WHERE id = ?
	`, storyID).Scan(
		&story.ID, &story.Title, &story.Description, &story.ProductArea,
		&story.Status, &story.CreatedAt, &story.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get story", err)
	}
	return &story, nil
}

// ListStories returns stories most recently created first
func (s *SQLiteStorage) ListStories(ctx context.Context, limit int) ([]*types.Story, error) {
	limitSQL := ""
	if limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, `
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

// AddStoryEvidence appends a conversation reference to a story's evidence.
// The composite primary key plus INSERT OR IGNORE makes the dedup atomic: two
// concurrent appends of the same conversation converge on one row. Returns
// the resulting snapshot.
func (s *SQLiteStorage) AddStoryEvidence(ctx context.Context, storyID, conversationID string, source types.Source, excerpt string) (*types.EvidenceSnapshot, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("add story evidence", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO story_evidence (story_id, conversation_id, source, excerpt, added_at)
		VALUES (?, ?, ?, ?, ?)
	`, storyID, conversationID, string(source), excerpt, now)
	if err != nil {
		return nil, storageErr("add story evidence", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE stories SET updated_at = ? WHERE id = ?
	`, now, storyID)
	if err != nil {
		return nil, storageErr("add story evidence", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, storageErr("add story evidence", err)
	}
	if rows == 0 {
		return nil, storageErr("add story evidence", fmt.Errorf("story %s not found", storyID))
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("add story evidence", err)
	}

	return s.GetStoryEvidence(ctx, storyID)
}

// GetStoryEvidence assembles the evidence snapshot for a story
func (s *SQLiteStorage) GetStoryEvidence(ctx context.Context, storyID string) (*types.EvidenceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, source, excerpt, added_at
		FROM story_evidence
		WHERE story_id = ?
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
