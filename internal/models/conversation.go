package models

import "time"

// Conversation is a direct-message thread between exactly two users. The key
// is derived from the sorted participant pair, so the same two users always
// land in the same row.
type Conversation struct {
	Key           string    `db:"key" json:"key"`
	UserA         string    `db:"user_a" json:"user_a"`
	UserB         string    `db:"user_b" json:"user_b"`
	LastMessage   string    `db:"last_message" json:"last_message"`
	LastMessageAt int64     `db:"last_message_at" json:"last_message_at"`
	LastSenderID  string    `db:"last_sender_id" json:"last_sender_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether the user belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// Peer returns the other participant for the given user.
func (c Conversation) Peer(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}
