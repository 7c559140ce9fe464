package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/schoolinbox/internal/logger"
	"github.com/schoolinbox/internal/model"
)

var ErrNotFound = errors.New("not found")

// ConversationRepository reads the global conversation record store. The
// write side (message send, participant changes) belongs to the upstream
// pipeline; this service never mutates these rows.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, participants, created_at,
		        COALESCE(first_message,''), COALESCE(first_message_sender_name,''),
		        COALESCE(last_message,''), COALESCE(last_message_sender_name,''),
		        last_message_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Participants, &c.CreatedAt,
		&c.FirstMessage, &c.FirstSenderName,
		&c.LastMessage, &c.LastSenderName, &c.LastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.GetByID: %w", err)
	}
	return c, nil
}

// GetByIDs loads a batch of conversation records keyed by id. Ids with no
// matching record are simply absent from the result, not an error: records
// can be deleted upstream while the per-user index still references them.
func (r *ConversationRepository) GetByIDs(ctx context.Context, ids []string) (map[string]model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.GetByIDs", time.Now())()
	if len(ids) == 0 {
		return map[string]model.Conversation{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, participants, created_at,
		        COALESCE(first_message,''), COALESCE(first_message_sender_name,''),
		        COALESCE(last_message,''), COALESCE(last_message_sender_name,''),
		        last_message_at
		 FROM conversations WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.Conversation, len(ids))
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.Participants, &c.CreatedAt,
			&c.FirstMessage, &c.FirstSenderName,
			&c.LastMessage, &c.LastSenderName, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("conversationRepo.GetByIDs scan: %w", err)
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversationRepo.GetByIDs rows: %w", err)
	}
	return out, nil
}
