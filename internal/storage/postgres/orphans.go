package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/feedforward/feedforward/internal/types"
)

// GetOrphanBySignature returns the orphan row for a signature regardless of
// active/graduated state, or (nil, nil) when absent.
func (s *PostgresStorage) GetOrphanBySignature(ctx context.Context, signature string) (*types.Orphan, error) {
	return s.getOrphanWhere(ctx, "signature = $1", signature)
}

// GetOrphan retrieves an orphan by id, or (nil, nil) when absent
func (s *PostgresStorage) GetOrphan(ctx context.Context, orphanID int64) (*types.Orphan, error) {
	return s.getOrphanWhere(ctx, "id = $1", orphanID)
}

func (s *PostgresStorage) getOrphanWhere(ctx context.Context, where string, arg interface{}) (*types.Orphan, error) {
	query := fmt.Sprintf(`
		SELECT id, signature, original_signature, product_area, component, title,
		       first_seen_at, last_seen_at, graduated_at, story_id
		FROM orphans
		WHERE %s
	`, where)

	orphan, err := scanOrphan(s.pool.QueryRow(ctx, query, arg))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get orphan", err)
	}

	if err := s.loadOrphanEvidence(ctx, orphan); err != nil {
		return nil, storageErr("load orphan evidence", err)
	}
	return orphan, nil
}

func scanOrphan(row pgx.Row) (*types.Orphan, error) {
	var orphan types.Orphan
	var graduatedAt *time.Time
	var storyID *string

	err := row.Scan(
		&orphan.ID, &orphan.Signature, &orphan.OriginalSignature,
		&orphan.ProductArea, &orphan.Component, &orphan.Title,
		&orphan.FirstSeenAt, &orphan.LastSeenAt, &graduatedAt, &storyID,
	)
	if err != nil {
		return nil, err
	}
	orphan.GraduatedAt = graduatedAt
	orphan.StoryID = storyID
	return &orphan, nil
}

func (s *PostgresStorage) loadOrphanEvidence(ctx context.Context, orphan *types.Orphan) error {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, source
		FROM orphan_conversations
		WHERE orphan_id = $1
		ORDER BY added_at, conversation_id
	`, orphan.ID)
	if err != nil {
		return fmt.Errorf("failed to query orphan conversations: %w", err)
	}
	defer rows.Close()

	orphan.ConversationIDs = []string{}
	orphan.SourceStats = map[string]int{}
	for rows.Next() {
		var convID, source string
		if err := rows.Scan(&convID, &source); err != nil {
			return fmt.Errorf("failed to scan orphan conversation: %w", err)
		}
		orphan.ConversationIDs = append(orphan.ConversationIDs, convID)
		orphan.SourceStats[source]++
	}
	return rows.Err()
}

// CreateOrGetOrphan attempts an idempotent insert keyed by signature,
// converging on the existing row when a concurrent insert wins the race.
func (s *PostgresStorage) CreateOrGetOrphan(ctx context.Context, draft *types.OrphanDraft) (*types.Orphan, bool, error) {
	if err := draft.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid orphan draft: %w", err)
	}

	now := time.Now().UTC()
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO orphans (signature, original_signature, product_area, component, title, first_seen_at, last_seen_at)
		VALUES ($1, $1, $2, $3, $4, $5, $5)
		RETURNING id
	`, draft.Signature, draft.ProductArea, draft.Component, draft.Title, now).Scan(&id)

	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetOrphanBySignature(ctx, draft.Signature)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil {
				return nil, false, storageErr("create orphan", fmt.Errorf("signature conflict for %q but no row found", draft.Signature))
			}
			return existing, false, nil
		}
		return nil, false, storageErr("create orphan", err)
	}

	return &types.Orphan{
		ID:                id,
		Signature:         draft.Signature,
		OriginalSignature: draft.Signature,
		ProductArea:       draft.ProductArea,
		Component:         draft.Component,
		Title:             draft.Title,
		FirstSeenAt:       now,
		LastSeenAt:        now,
		ConversationIDs:   []string{},
		SourceStats:       map[string]int{},
	}, true, nil
}

// AppendOrphanConversation appends a conversation reference atomically
// (ON CONFLICT DO NOTHING) and bumps last_seen_at. A duplicate conversation
// id is a full no-op; last_seen_at stays where it was.
func (s *PostgresStorage) AppendOrphanConversation(ctx context.Context, orphanID int64, conversationID string, source types.Source, excerpt string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insert, err := tx.Exec(ctx, `
		INSERT INTO orphan_conversations (orphan_id, conversation_id, source, excerpt)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (orphan_id, conversation_id) DO NOTHING
	`, orphanID, conversationID, string(source), excerpt)
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	if insert.RowsAffected() == 0 {
		// Duplicate conversation id: the row already carries this evidence.
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orphans SET last_seen_at = NOW() WHERE id = $1
	`, orphanID)
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return storageErr("append orphan conversation", fmt.Errorf("orphan %d not found", orphanID))
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("append orphan conversation", err)
	}
	return nil
}

// MarkOrphanGraduated performs the one-way active -> graduated transition
func (s *PostgresStorage) MarkOrphanGraduated(ctx context.Context, orphanID int64, storyID string) error {
	if storyID == "" {
		return fmt.Errorf("story id is required")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orphans
		SET graduated_at = NOW(), story_id = $1
		WHERE id = $2 AND graduated_at IS NULL
	`, storyID, orphanID)
	if err != nil {
		return storageErr("mark orphan graduated", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	orphan, err := s.GetOrphan(ctx, orphanID)
	if err != nil {
		return err
	}
	if orphan == nil {
		return storageErr("mark orphan graduated", fmt.Errorf("orphan %d not found", orphanID))
	}
	if orphan.StoryID != nil && *orphan.StoryID == storyID {
		return nil
	}
	existing := ""
	if orphan.StoryID != nil {
		existing = *orphan.StoryID
	}
	return &types.AlreadyGraduatedError{
		OrphanID:        orphanID,
		ExistingStoryID: existing,
		AttemptedStory:  storyID,
	}
}

// GetOrphanExcerpts returns the per-conversation evidence rows for an orphan
// in insertion order.
func (s *PostgresStorage) GetOrphanExcerpts(ctx context.Context, orphanID int64) ([]types.Excerpt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id, source, excerpt
		FROM orphan_conversations
		WHERE orphan_id = $1
		ORDER BY added_at, conversation_id
	`, orphanID)
	if err != nil {
		return nil, storageErr("get orphan excerpts", err)
	}
	defer rows.Close()

	var excerpts []types.Excerpt
	for rows.Next() {
		var e types.Excerpt
		var source string
		if err := rows.Scan(&e.ConversationID, &source, &e.Text); err != nil {
			return nil, storageErr("get orphan excerpts", err)
		}
		e.Source = types.Source(source)
		excerpts = append(excerpts, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get orphan excerpts", err)
	}
	return excerpts, nil
}

// ListOrphans returns orphans matching the filter, most recently seen first
func (s *PostgresStorage) ListOrphans(ctx context.Context, filter types.OrphanFilter) ([]*types.Orphan, error) {
	where := ""
	args := []interface{}{}

	if filter.Graduated != nil {
		if *filter.Graduated {
			where = "WHERE graduated_at IS NOT NULL"
		} else {
			where = "WHERE graduated_at IS NULL"
		}
	}
	if filter.ProductArea != "" {
		if where == "" {
			where = "WHERE product_area = $1"
		} else {
			where += " AND product_area = $1"
		}
		args = append(args, filter.ProductArea)
	}

	limitSQL := ""
	if filter.Limit > 0 {
		limitSQL = fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	query := fmt.Sprintf(`
		SELECT id, signature, original_signature, product_area, component, title,
		       first_seen_at, last_seen_at, graduated_at, story_id
		FROM orphans
		%s
		ORDER BY last_seen_at DESC
		%s
	`, where, limitSQL)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list orphans", err)
	}
	defer rows.Close()

	var orphans []*types.Orphan
	for rows.Next() {
		orphan, err := scanOrphan(rows)
		if err != nil {
			return nil, storageErr("list orphans", err)
		}
		orphans = append(orphans, orphan)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list orphans", err)
	}

	for _, orphan := range orphans {
		if err := s.loadOrphanEvidence(ctx, orphan); err != nil {
			return nil, storageErr("list orphans", err)
		}
	}
	return orphans, nil
}
