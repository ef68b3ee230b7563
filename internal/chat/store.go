package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kdsun75/comprj/internal/models"
	"github.com/kdsun75/comprj/internal/observability"
	"github.com/kdsun75/comprj/internal/repositories"
)

// MessageWindow bounds every live message stream to the most recent entries.
const MessageWindow = 50

// Store is the message store adapter. Writes go through the repositories and
// are then round-tripped through the in-process broker, which feeds every
// live subscription. The inbox projection is a best-effort secondary write:
// a projection failure after a durable append leaves the counters stale
// until the next send or mark-read, never the message.
type Store struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	inbox         repositories.InboxRepository
	broker        *broker
	logger        *zap.Logger
}

// NewStore builds a Store over the given repositories.
func NewStore(conversations repositories.ConversationRepository, messages repositories.MessageRepository, inbox repositories.InboxRepository, logger *zap.Logger) *Store {
	return &Store{
		conversations: conversations,
		messages:      messages,
		inbox:         inbox,
		broker:        newBroker(),
		logger:        logger,
	}
}

// EnsureConversation idempotently creates the conversation between two users
// and returns its key. Existing metadata and history are never overwritten.
func (s *Store) EnsureConversation(ctx context.Context, userID string, peerID string) (string, error) {
	key, err := ConversationKey(userID, peerID)
	if err != nil {
		return "", err
	}
	a, b, _ := SplitKey(key)
	if err := s.conversations.EnsureConversation(ctx, key, a, b); err != nil {
		return "", storeErr(err)
	}
	return key, nil
}

// GetConversation fetches a conversation by key.
func (s *Store) GetConversation(ctx context.Context, key string) (models.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, key)
	if err != nil {
		return models.Conversation{}, storeErr(err)
	}
	return conv, nil
}

// AppendMessage validates and stores a message, updates the conversation's
// last-message metadata, projects both participants' inbox rows and publishes
// the message to live subscribers. The append itself is the durability
// boundary; the projection is logged on failure, not returned.
func (s *Store) AppendMessage(ctx context.Context, senderID string, receiverID string, content string, senderName string, senderAvatar string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	key, err := ConversationKey(senderID, receiverID)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ConversationKey: key,
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         content,
		SenderName:      senderName,
		SenderAvatar:    senderAvatar,
		SentAt:          time.Now().UnixMilli(),
	}
	msg, err = s.messages.AppendMessage(ctx, msg)
	if err != nil {
		return models.Message{}, storeErr(err)
	}

	if err := s.conversations.SetLastMessage(ctx, key, content, msg.SentAt, senderID); err != nil {
		return models.Message{}, storeErr(err)
	}

	// Inbox projection: sender resets to zero, receiver gains one.
	if err := s.inbox.UpsertSenderRow(ctx, senderID, key, receiverID, content, msg.SentAt); err != nil {
		s.logger.Warn("inbox projection failed for sender", zap.String("conversation", key), zap.Error(err))
	}
	if err := s.inbox.BumpReceiverRow(ctx, receiverID, key, senderID, content, msg.SentAt); err != nil {
		s.logger.Warn("inbox projection failed for receiver", zap.String("conversation", key), zap.Error(err))
	}

	observability.IncMessageSent()
	s.broker.publishMessage(key, msg)
	s.broker.signalInbox(senderID)
	s.broker.signalInbox(receiverID)
	return msg, nil
}

// RecentMessages returns the current bounded window of a conversation,
// oldest first.
func (s *Store) RecentMessages(ctx context.Context, key string) ([]models.Message, error) {
	msgs, err := s.messages.RecentMessages(ctx, key, MessageWindow)
	if err != nil {
		return nil, storeErr(err)
	}
	return msgs, nil
}

// StreamMessages delivers the current message window and then every updated
// window as messages arrive, until the returned cancel func is called. The
// subscription is registered before the initial load so appends racing the
// load are buffered and merged instead of lost.
func (s *Store) StreamMessages(ctx context.Context, key string, fn func([]models.Message)) (func(), error) {
	sub := &messageStream{window: make([]models.Message, 0, MessageWindow), deliver: fn}
	cancel := s.broker.subscribeMessages(key, sub.onMessage)

	initial, err := s.messages.RecentMessages(ctx, key, MessageWindow)
	if err != nil {
		cancel()
		return nil, storeErr(err)
	}
	sub.start(initial)
	return cancel, nil
}

// MarkRead zeroes the user's unread counter for a conversation and signals
// inbox subscribers. Per-message read flags are untouched; the row counter
// is the single source of truth for unread state.
func (s *Store) MarkRead(ctx context.Context, key string, userID string) error {
	if err := s.inbox.MarkRead(ctx, userID, key); err != nil {
		return storeErr(err)
	}
	s.broker.signalInbox(userID)
	return nil
}

// TotalUnread sums the user's unread counters across all conversations.
func (s *Store) TotalUnread(ctx context.Context, userID string) (int, error) {
	total, err := s.inbox.TotalUnread(ctx, userID)
	if err != nil {
		return 0, storeErr(err)
	}
	return total, nil
}

// SubscribeTotalUnread delivers the user's current unread total and then a
// fresh total on every inbox change.
func (s *Store) SubscribeTotalUnread(ctx context.Context, userID string, fn func(int)) (func(), error) {
	return s.subscribeInboxDerived(ctx, userID, "unread total", func(ctx context.Context) error {
		total, err := s.inbox.TotalUnread(ctx, userID)
		if err != nil {
			return err
		}
		fn(total)
		return nil
	})
}

// ListInbox returns the user's inbox rows, most recent conversation first.
func (s *Store) ListInbox(ctx context.Context, userID string) ([]models.InboxRow, error) {
	rows, err := s.inbox.ListRows(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return rows, nil
}

// SubscribeInbox delivers the user's inbox rows and then a fresh listing on
// every change.
func (s *Store) SubscribeInbox(ctx context.Context, userID string, fn func([]models.InboxRow)) (func(), error) {
	return s.subscribeInboxDerived(ctx, userID, "inbox listing", func(ctx context.Context) error {
		rows, err := s.inbox.ListRows(ctx, userID)
		if err != nil {
			return err
		}
		fn(rows)
		return nil
	})
}

// subscribeInboxDerived registers an inbox change handler before running the
// initial load, so a change landing during the load is not lost: it is held
// back as pending and flushed right after the initial delivery.
func (s *Store) subscribeInboxDerived(ctx context.Context, userID string, what string, deliver func(context.Context) error) (func(), error) {
	var mu sync.Mutex
	ready := false
	pending := false

	refresh := func() {
		if err := deliver(context.Background()); err != nil {
			s.logger.Warn(what+" refresh failed", zap.String("user", userID), zap.Error(err))
		}
	}
	cancel := s.broker.subscribeInbox(userID, func() {
		mu.Lock()
		if !ready {
			pending = true
			mu.Unlock()
			return
		}
		mu.Unlock()
		refresh()
	})

	if err := deliver(ctx); err != nil {
		cancel()
		return nil, storeErr(err)
	}
	mu.Lock()
	ready = true
	flush := pending
	pending = false
	mu.Unlock()
	if flush {
		refresh()
	}
	return cancel, nil
}

// messageStream holds one subscription's cached window. Events arriving
// before the initial load finishes are buffered and merged by id.
type messageStream struct {
	mu      sync.Mutex
	ready   bool
	pending []models.Message
	window  []models.Message
	deliver func([]models.Message)
}

func (ms *messageStream) start(initial []models.Message) {
	ms.mu.Lock()
	ms.window = append(ms.window, initial...)
	for _, msg := range ms.pending {
		ms.appendLocked(msg)
	}
	ms.pending = nil
	ms.ready = true
	out := ms.snapshotLocked()
	ms.mu.Unlock()
	ms.deliver(out)
}

func (ms *messageStream) onMessage(msg models.Message) {
	ms.mu.Lock()
	if !ms.ready {
		ms.pending = append(ms.pending, msg)
		ms.mu.Unlock()
		return
	}
	ms.appendLocked(msg)
	out := ms.snapshotLocked()
	ms.mu.Unlock()
	ms.deliver(out)
}

func (ms *messageStream) appendLocked(msg models.Message) {
	if n := len(ms.window); n > 0 && ms.window[n-1].ID >= msg.ID {
		return // already part of the loaded window
	}
	ms.window = append(ms.window, msg)
	if len(ms.window) > MessageWindow {
		ms.window = ms.window[len(ms.window)-MessageWindow:]
	}
}

func (ms *messageStream) snapshotLocked() []models.Message {
	out := make([]models.Message, len(ms.window))
	copy(out, ms.window)
	return out
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
