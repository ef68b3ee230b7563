package models

// Message is a single direct message. Messages are immutable once stored;
// SentAt is a millisecond timestamp and ID is the insertion-order tie-break.
type Message struct {
	ID              int    `db:"id" json:"id"`
	ConversationKey string `db:"conversation_key" json:"conversation_key"`
	SenderID        string `db:"sender_id" json:"sender_id"`
	ReceiverID      string `db:"receiver_id" json:"receiver_id"`
	Content         string `db:"content" json:"content"`
	SenderName      string `db:"sender_name" json:"sender_name"`
	SenderAvatar    string `db:"sender_avatar" json:"sender_avatar,omitempty"`
	Read            bool   `db:"read" json:"read"`
	SentAt          int64  `db:"sent_at" json:"sent_at"`
}

// ChatEvent is broadcasted through websockets. A "snapshot" event carries a
// conversation's full bounded window, "inbox" the user's current listing and
// "unread_total" the summed unread counter.
type ChatEvent struct {
	Type        string     `json:"type"`
	Messages    []Message  `json:"messages,omitempty"`
	Inbox       []InboxRow `json:"inbox,omitempty"`
	UnreadTotal int        `json:"unread_total,omitempty"`
}
