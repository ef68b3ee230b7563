package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/kdsun75/comprj/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	EnsureConversation(ctx context.Context, key string, userA string, userB string) error
	GetConversation(ctx context.Context, key string) (models.Conversation, error)
	SetLastMessage(ctx context.Context, key string, content string, sentAt int64, senderID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// EnsureConversation creates the conversation row if it does not exist yet.
// On conflict only the participant columns are reasserted; last-message
// metadata and history are never touched, so the call is safe to repeat.
func (r *ConversationRepo) EnsureConversation(ctx context.Context, key string, userA string, userB string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversations (key, user_a, user_b) VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET user_a = EXCLUDED.user_a, user_b = EXCLUDED.user_b`, key, userA, userB)
	return err
}

// GetConversation fetches a conversation by key.
func (r *ConversationRepo) GetConversation(ctx context.Context, key string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT key, user_a, user_b, last_message, last_message_at, last_sender_id, created_at
        FROM conversations WHERE key=$1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// SetLastMessage updates the conversation's last-message metadata.
func (r *ConversationRepo) SetLastMessage(ctx context.Context, key string, content string, sentAt int64, senderID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message=$2, last_message_at=$3, last_sender_id=$4 WHERE key=$1`,
		key, content, sentAt, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConversationNotFound
	}
	return nil
}
