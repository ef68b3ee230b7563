package models

// InboxRow is the per-user denormalized summary of one conversation. It is a
// projection maintained on every send and can always be rebuilt by replaying
// the conversation's messages.
type InboxRow struct {
	UserID          string `db:"user_id" json:"-"`
	ConversationKey string `db:"conversation_key" json:"conversation_key"`
	PeerID          string `db:"peer_id" json:"peer_id"`
	LastMessage     string `db:"last_message" json:"last_message"`
	LastMessageAt   int64  `db:"last_message_at" json:"last_message_at"`
	UnreadCount     int    `db:"unread_count" json:"unread_count"`
}

// InboxEntry is the API-facing view of an InboxRow enriched with the peer's
// profile.
type InboxEntry struct {
	InboxRow
	PeerName   string `json:"peer_name"`
	PeerAvatar string `json:"peer_avatar,omitempty"`
}
