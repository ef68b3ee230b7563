package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kdsun75/comprj/internal/models"
)

// InboxRepository maintains the per-user denormalized conversation summaries.
type InboxRepository interface {
	UpsertSenderRow(ctx context.Context, userID string, key string, peerID string, lastMessage string, lastMessageAt int64) error
	BumpReceiverRow(ctx context.Context, userID string, key string, peerID string, lastMessage string, lastMessageAt int64) error
	MarkRead(ctx context.Context, userID string, key string) error
	ListRows(ctx context.Context, userID string) ([]models.InboxRow, error)
	TotalUnread(ctx context.Context, userID string) (int, error)
}

// InboxRepo is a sqlx implementation of InboxRepository.
type InboxRepo struct {
	db *sqlx.DB
}

// NewInboxRepo constructs an InboxRepo.
func NewInboxRepo(db *sqlx.DB) *InboxRepo {
	return &InboxRepo{db: db}
}

// UpsertSenderRow writes the sender's row for a send: last message updated,
// unread count reset to zero.
func (r *InboxRepo) UpsertSenderRow(ctx context.Context, userID string, key string, peerID string, lastMessage string, lastMessageAt int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO inbox_rows (user_id, conversation_key, peer_id, last_message, last_message_at, unread_count)
        VALUES ($1, $2, $3, $4, $5, 0)
        ON CONFLICT (user_id, conversation_key)
        DO UPDATE SET last_message = EXCLUDED.last_message, last_message_at = EXCLUDED.last_message_at, unread_count = 0`,
		userID, key, peerID, lastMessage, lastMessageAt)
	return err
}

// BumpReceiverRow writes the receiver's row for a send: last message updated,
// unread count incremented by exactly one. The increment happens inside the
// upsert so concurrent sends never lose counts.
func (r *InboxRepo) BumpReceiverRow(ctx context.Context, userID string, key string, peerID string, lastMessage string, lastMessageAt int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO inbox_rows (user_id, conversation_key, peer_id, last_message, last_message_at, unread_count)
        VALUES ($1, $2, $3, $4, $5, 1)
        ON CONFLICT (user_id, conversation_key)
        DO UPDATE SET last_message = EXCLUDED.last_message, last_message_at = EXCLUDED.last_message_at, unread_count = inbox_rows.unread_count + 1`,
		userID, key, peerID, lastMessage, lastMessageAt)
	return err
}

// MarkRead zeroes the unread counter on the user's row for a conversation.
// Missing rows are a no-op.
func (r *InboxRepo) MarkRead(ctx context.Context, userID string, key string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE inbox_rows SET unread_count = 0 WHERE user_id=$1 AND conversation_key=$2`, userID, key)
	return err
}

// ListRows returns the user's inbox rows, most recent conversation first.
func (r *InboxRepo) ListRows(ctx context.Context, userID string) ([]models.InboxRow, error) {
	var rows []models.InboxRow
	err := r.db.SelectContext(ctx, &rows, `SELECT user_id, conversation_key, peer_id, last_message, last_message_at, unread_count
        FROM inbox_rows WHERE user_id=$1 ORDER BY last_message_at DESC`, userID)
	return rows, err
}

// TotalUnread sums unread counters over all of the user's rows.
func (r *InboxRepo) TotalUnread(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(unread_count), 0) FROM inbox_rows WHERE user_id=$1`, userID)
	return total, err
}
