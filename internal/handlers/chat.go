package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kdsun75/comprj/internal/chat"
	"github.com/kdsun75/comprj/internal/models"
	"github.com/kdsun75/comprj/internal/repositories"
	"github.com/kdsun75/comprj/internal/telemetry"
)

// ChatStore is the store surface the HTTP handlers consume.
type ChatStore interface {
	EnsureConversation(ctx context.Context, userID string, peerID string) (string, error)
	GetConversation(ctx context.Context, key string) (models.Conversation, error)
	AppendMessage(ctx context.Context, senderID string, receiverID string, content string, senderName string, senderAvatar string) (models.Message, error)
	RecentMessages(ctx context.Context, key string) ([]models.Message, error)
	MarkRead(ctx context.Context, key string, userID string) error
	ListInbox(ctx context.Context, userID string) ([]models.InboxRow, error)
	TotalUnread(ctx context.Context, userID string) (int, error)
}

// ChatHandler manages the direct-messaging endpoints.
type ChatHandler struct {
	store ChatStore
	users repositories.UserRepository
	audit *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(store ChatStore, users repositories.UserRepository, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{store: store, users: users, audit: audit}
}

// ListInbox returns the caller's conversation summaries enriched with peer
// profiles, most recent first.
func (h *ChatHandler) ListInbox(c *gin.Context) {
	userID := c.GetString("userID")

	rows, err := h.store.ListInbox(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load inbox"})
		return
	}

	peerIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		peerIDs = append(peerIDs, row.PeerID)
	}
	users, err := h.users.BulkUsers(c.Request.Context(), peerIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load peer profiles"})
		return
	}
	profiles := map[string]models.User{}
	for _, u := range users {
		profiles[u.ID] = u
	}

	entries := make([]models.InboxEntry, 0, len(rows))
	for _, row := range rows {
		entry := models.InboxEntry{InboxRow: row, PeerName: "unknown user"}
		if profile, ok := profiles[row.PeerID]; ok {
			entry.PeerName = profile.DisplayName
			entry.PeerAvatar = profile.AvatarURL
		}
		entries = append(entries, entry)
	}

	c.JSON(http.StatusOK, gin.H{"inbox": entries})
}

// StartConversation idempotently creates the conversation with a peer and
// returns its key.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if userID == req.PeerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	h.syncProfile(c)

	key, err := h.store.EnsureConversation(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	h.audit.Emit(c.Request.Context(), "conversation_opened", key, req.PeerID, requestIDFromContext(c), userID)
	c.JSON(http.StatusOK, gin.H{"conversation_key": key})
}

// GetMessages returns the current bounded message window of a conversation.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	key := c.Param("key")
	userID := c.GetString("userID")

	if _, ok := h.loadConversation(c, key, userID); !ok {
		return
	}

	msgs, err := h.store.RecentMessages(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage appends a message to a conversation. A failed send keeps the
// client's compose state intact; the caller decides whether to retry.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	key := c.Param("key")
	userID := c.GetString("userID")

	conv, ok := h.loadConversation(c, key, userID)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.syncProfile(c)

	msg, err := h.store.AppendMessage(c.Request.Context(), userID, conv.Peer(userID), req.Content,
		c.GetString("displayName"), c.GetString("avatarURL"))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyContent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
		case errors.Is(err, chat.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	h.audit.Emit(c.Request.Context(), "message_sent", key, conv.Peer(userID), requestIDFromContext(c), userID)
	c.JSON(http.StatusCreated, msg)
}

// MarkRead zeroes the caller's unread counter for a conversation.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	key := c.Param("key")
	userID := c.GetString("userID")

	if _, ok := h.loadConversation(c, key, userID); !ok {
		return
	}

	if err := h.store.MarkRead(c.Request.Context(), key, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark conversation read"})
		return
	}

	h.audit.Emit(c.Request.Context(), "marked_read", key, "", requestIDFromContext(c), userID)
	c.Status(http.StatusNoContent)
}

// UnreadTotal returns the caller's summed unread count for the badge.
func (h *ChatHandler) UnreadTotal(c *gin.Context) {
	userID := c.GetString("userID")

	total, err := h.store.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread total"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_total": total})
}

// syncProfile upserts the caller's profile from their token claims, keeping
// the users table current for peer enrichment. Best-effort: a failed write
// only means the peer's inbox shows a stale or placeholder name.
func (h *ChatHandler) syncProfile(c *gin.Context) {
	user := models.User{
		ID:          c.GetString("userID"),
		DisplayName: c.GetString("displayName"),
		AvatarURL:   c.GetString("avatarURL"),
	}
	if user.DisplayName == "" {
		return
	}
	_ = h.users.UpsertUser(c.Request.Context(), user)
}

func (h *ChatHandler) loadConversation(c *gin.Context, key string, userID string) (models.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return models.Conversation{}, false
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return models.Conversation{}, false
	}
	return conv, true
}
