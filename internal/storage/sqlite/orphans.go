package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/feedforward/feedforward/internal/types"
)

// storageErr wraps an unexpected storage failure so the router can
// distinguish it from domain outcomes.
func storageErr(op string, err error) error {
	return &types.StorageError{Op: op, Err: err}
}

// GetOrphanBySignature returns the orphan row for a signature regardless of
// active/graduated state, or (nil, nil) when absent. Callers branch on
// GraduatedAt; filtering graduated rows here would reintroduce the
// duplicate-key cascade on signature reuse.
func (s *SQLiteStorage) GetOrphanBySignature(ctx context.Context, signature string) (*types.Orphan, error) {
	return s.getOrphanWhere(ctx, "signature = ?", signature)
}

// GetOrphan retrieves an orphan by id, or (nil, nil) when absent
func (s *SQLiteStorage) GetOrphan(ctx context.Context, orphanID int64) (*types.Orphan, error) {
	return s.getOrphanWhere(ctx, "id = ?", orphanID)
}

func (s *SQLiteStorage) getOrphanWhere(ctx context.Context, where string, arg interface{}) (*types.Orphan, error) {
	query := fmt.Sprintf(`
		SELECT id, signature, original_signature, product_area, component, title,
		       first_seen_at, last_seen_at, graduated_at, story_id
		FROM orphans
		WHERE %s
	`, where)

	orphan, err := s.scanOrphanRow(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStorage) scanOrphanRow(row rowScanner) (*types.Orphan, error) {
	var orphan types.Orphan
	var graduatedAt sql.NullTime
	var storyID sql.NullString

	err := row.Scan(
		&orphan.ID, &orphan.Signature, &orphan.OriginalSignature,
		&orphan.ProductArea, &orphan.Component, &orphan.Title,
		&orphan.FirstSeenAt, &orphan.LastSeenAt, &graduatedAt, &storyID,
	)
	if err != nil {
		return nil, err
	}

	if graduatedAt.Valid {
		orphan.GraduatedAt = &graduatedAt.Time
	}
	if storyID.Valid {
		orphan.StoryID = &storyID.String
	}
	return &orphan, nil
}

// loadOrphanEvidence fills in the conversation id set and per-source counts
func (s *SQLiteStorage) loadOrphanEvidence(ctx context.Context, orphan *types.Orphan) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, source
		FROM orphan_conversations
		WHERE orphan_id = ?
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

// CreateOrGetOrphan attempts an idempotent insert keyed by signature. A
// unique-constraint conflict means a concurrent creator won the race; the
// existing row is re-read and returned with created=false. This is the
// idempotency primitive the router depends on: the conflict never escapes as
// an error.
func (s *SQLiteStorage) CreateOrGetOrphan(ctx context.Context, draft *types.OrphanDraft) (*types.Orphan, bool, error) {
	if err := draft.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid orphan draft: %w", err)
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO orphans (signature, original_signature, product_area, component, title, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, draft.Signature, draft.Signature, draft.ProductArea, draft.Component, draft.Title, now, now)

	if err != nil {
		if isUniqueConstraintError(err) {
			// Expected race: a concurrent insert landed first. Converge on
			// the surviving row.
			existing, getErr := s.GetOrphanBySignature(ctx, draft.Signature)
			if getErr != nil {
				return nil, false, getErr
			}
			if existing == nil {
				// Conflict reported but row gone: the concurrent creator
				// rolled back. Surface as retryable.
				return nil, false, storageErr("create orphan", fmt.Errorf("signature conflict for %q but no row found", draft.Signature))
			}
			return existing, false, nil
		}
		return nil, false, storageErr("create orphan", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, storageErr("create orphan", err)
	}

	orphan := &types.Orphan{
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
	}
	return orphan, true, nil
}

// AppendOrphanConversation appends a conversation reference and bumps
// last_seen_at. The INSERT OR IGNORE makes the dedup-and-append a single
// atomic statement; an already-present conversation id is a full no-op, not
// an error, and leaves last_seen_at untouched.
func (s *SQLiteStorage) AppendOrphanConversation(ctx context.Context, orphanID int64, conversationID string, source types.Source, excerpt string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO orphan_conversations (orphan_id, conversation_id, source, excerpt, added_at)
		VALUES (?, ?, ?, ?, ?)
	`, orphanID, conversationID, string(source), excerpt, time.Now().UTC())
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	inserted, err := insert.RowsAffected()
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	if inserted == 0 {
		// Duplicate conversation id: the row already carries this evidence.
		return nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE orphans SET last_seen_at = ? WHERE id = ?
	`, time.Now().UTC(), orphanID)
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("append orphan conversation", err)
	}
	if rows == 0 {
		return storageErr("append orphan conversation", fmt.Errorf("orphan %d not found", orphanID))
	}

	if err := tx.Commit(); err != nil {
		return storageErr("append orphan conversation", err)
	}
	return nil
}

// MarkOrphanGraduated performs the one-way active -> graduated transition.
// The conditional UPDATE only touches rows not yet graduated; a retry with
// the same story id succeeds, a different story id is an integrity error.
func (s *SQLiteStorage) MarkOrphanGraduated(ctx context.Context, orphanID int64, storyID string) error {
	if storyID == "" {
		return fmt.Errorf("story id is required")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE orphans
		SET graduated_at = ?, story_id = ?
		WHERE id = ? AND graduated_at IS NULL
	`, time.Now().UTC(), storyID, orphanID)
	if err != nil {
		return storageErr("mark orphan graduated", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("mark orphan graduated", err)
	}
	if rows > 0 {
		return nil
	}

	// No row transitioned: either the orphan doesn't exist or it already
	// graduated. Re-read to tell the two apart.
	orphan, err := s.GetOrphan(ctx, orphanID)
	if err != nil {
		return err
	}
	if orphan == nil {
		return storageErr("mark orphan graduated", fmt.Errorf("orphan %d not found", orphanID))
	}
	if orphan.StoryID != nil && *orphan.StoryID == storyID {
		// Idempotent retry of the same graduation.
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
func (s *SQLiteStorage) GetOrphanExcerpts(ctx context.Context, orphanID int64) ([]types.Excerpt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, source, excerpt
		FROM orphan_conversations
		WHERE orphan_id = ?
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
func (s *SQLiteStorage) ListOrphans(ctx context.Context, filter types.OrphanFilter) ([]*types.Orphan, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if filter.Graduated != nil {
		if *filter.Graduated {
			whereClauses = append(whereClauses, "graduated_at IS NOT NULL")
		} else {
			whereClauses = append(whereClauses, "graduated_at IS NULL")
		}
	}
	if filter.ProductArea != "" {
		whereClauses = append(whereClauses, "product_area = ?")
		args = append(args, filter.ProductArea)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = "WHERE " + joinClauses(whereClauses)
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
	`, whereSQL, limitSQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list orphans", err)
	}
	defer rows.Close()

	var orphans []*types.Orphan
	for rows.Next() {
		orphan, err := s.scanOrphanRow(rows)
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

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
