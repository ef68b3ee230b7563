package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kdsun75/comprj/internal/models"
)

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	RecentMessages(ctx context.Context, key string, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a message and returns it with its generated id.
func (r *MessageRepo) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_key, sender_id, receiver_id, content, sender_name, sender_avatar, read, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
        RETURNING id, conversation_key, sender_id, receiver_id, content, sender_name, sender_avatar, read, sent_at`,
		msg.ConversationKey, msg.SenderID, msg.ReceiverID, msg.Content, msg.SenderName, msg.SenderAvatar, msg.SentAt).
		StructScan(&msg)
	return msg, err
}

// RecentMessages returns the most recent messages of a conversation, oldest
// first, bounded to limit. Ties on sent_at resolve by insertion order.
func (r *MessageRepo) RecentMessages(ctx context.Context, key string, limit int) ([]models.Message, error) {
	query := `SELECT * FROM (
            SELECT id, conversation_key, sender_id, receiver_id, content, sender_name, sender_avatar, read, sent_at
            FROM messages WHERE conversation_key=$1
            ORDER BY sent_at DESC, id DESC LIMIT $2
        ) recent ORDER BY sent_at ASC, id ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, key, limit)
	return msgs, err
}
