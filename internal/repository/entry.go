package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
)

// EntryRepository reads the per-user conversation index. Rows are written by
// the external message pipeline (new message, read receipt, leave); this
// service only scans and filters them.
type EntryRepository struct {
	pool *pgxpool.Pool
}

func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{pool: pool}
}

func categoryFilter(cat model.Category) string {
	switch cat {
	case model.CategoryUnread:
		return "active AND unread_messages > 0"
	case model.CategoryLeft:
		return "NOT active"
	default:
		return "active"
	}
}

// ListIDs returns the newest `limit` conversation ids for one category,
// ordered by last_message_at descending with missing timestamps last. Each
// call re-filters the whole index for the user; there is no cursor, so a
// wider window is always a re-read.
func (r *EntryRepository) ListIDs(ctx context.Context, userID string, cat model.Category, limit int) ([]string, error) {
	defer logger.DeferLogDuration("entry.ListIDs", time.Now())()
	q := fmt.Sprintf(
		`SELECT conversation_id FROM conversation_entries
		 WHERE user_id = $1 AND %s
		 ORDER BY last_message_at DESC NULLS LAST, conversation_id
		 LIMIT $2`, categoryFilter(cat))
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("entryRepo.ListIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("entryRepo.ListIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entryRepo.ListIDs rows: %w", err)
	}
	return ids, nil
}

// GetEntries loads index entries for a set of conversation ids. Missing
// entries are absent from the map (momentary index inconsistency is normal).
func (r *EntryRepository) GetEntries(ctx context.Context, userID string, ids []string) (map[string]model.ConversationEntry, error) {
	defer logger.DeferLogDuration("entry.GetEntries", time.Now())()
	if len(ids) == 0 {
		return map[string]model.ConversationEntry{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, conversation_id, active, unread_messages,
		        COALESCE(last_message,''), COALESCE(last_message_sender_name,''), last_message_at
		 FROM conversation_entries
		 WHERE user_id = $1 AND conversation_id = ANY($2)`, userID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("entryRepo.GetEntries query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.ConversationEntry, len(ids))
	for rows.Next() {
		var e model.ConversationEntry
		if err := rows.Scan(&e.UserID, &e.ConversationID, &e.Active, &e.UnreadMessages,
			&e.LastMessage, &e.LastSenderName, &e.LastMessageAt); err != nil {
			return nil, fmt.Errorf("entryRepo.GetEntries scan: %w", err)
		}
		out[e.ConversationID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entryRepo.GetEntries rows: %w", err)
	}
	return out, nil
}

// Counts scans the whole per-user index once and returns authoritative totals
// per category. Used for the "load more" affordance; never derived from a
// fetched window prefix.
func (r *EntryRepository) Counts(ctx context.Context, userID string) (model.CategoryCounts, error) {
	defer logger.DeferLogDuration("entry.Counts", time.Now())()
	var c model.CategoryCounts
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE active),
		        COUNT(*) FILTER (WHERE active AND unread_messages > 0),
		        COUNT(*) FILTER (WHERE NOT active)
		 FROM conversation_entries WHERE user_id = $1`, userID,
	).Scan(&c.Active, &c.Unread, &c.Left)
	if err != nil {
		return model.CategoryCounts{}, fmt.Errorf("entryRepo.Counts: %w", err)
	}
	return c, nil
}
