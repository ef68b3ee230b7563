package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kdsun75/comprj/internal/models"
)

// Identity is the authenticated user a session manager acts for. It crosses
// the auth boundary once, at construction.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// SessionStore is the slice of the store a session manager depends on.
type SessionStore interface {
	EnsureConversation(ctx context.Context, userID string, peerID string) (string, error)
	AppendMessage(ctx context.Context, senderID string, receiverID string, content string, senderName string, senderAvatar string) (models.Message, error)
	StreamMessages(ctx context.Context, key string, fn func([]models.Message)) (func(), error)
	MarkRead(ctx context.Context, key string, userID string) error
	SubscribeTotalUnread(ctx context.Context, userID string, fn func(int)) (func(), error)
}

// Window is a snapshot of one open conversation window. Position is the
// window's ordinal among currently open windows, used for screen offsets;
// it shifts when earlier windows close, the identity (key) never does.
type Window struct {
	ConversationKey string           `json:"conversation_key"`
	PeerID          string           `json:"peer_id"`
	PeerName        string           `json:"peer_name"`
	PeerAvatar      string           `json:"peer_avatar,omitempty"`
	Minimized       bool             `json:"minimized"`
	Position        int              `json:"position"`
	Messages        []models.Message `json:"messages"`
}

type openWindow struct {
	key        string
	peerID     string
	peerName   string
	peerAvatar string
	minimized  bool
	messages   []models.Message
	cancel     func()
}

// SessionManager owns the set of conversation windows open in one client
// session. Every window transition goes through its methods; presentation
// layers observe it via Subscribe and re-read Windows/UnreadTotal on each
// notification.
type SessionManager struct {
	store    SessionStore
	identity Identity
	logger   *zap.Logger

	mu           sync.Mutex
	windows      []*openWindow
	opening      map[string]struct{}
	subs         map[int64]func()
	nextSubID    int64
	unread       int
	cancelUnread func()
	closed       bool
}

// NewSessionManager builds a manager for the given identity and starts the
// live unread-total subscription.
func NewSessionManager(ctx context.Context, store SessionStore, identity Identity, logger *zap.Logger) (*SessionManager, error) {
	if identity.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidParticipants)
	}
	m := &SessionManager{
		store:    store,
		identity: identity,
		logger:   logger,
		opening:  make(map[string]struct{}),
		subs:     make(map[int64]func()),
	}
	cancel, err := store.SubscribeTotalUnread(ctx, identity.UserID, func(total int) {
		m.mu.Lock()
		m.unread = total
		m.mu.Unlock()
		m.notify()
	})
	if err != nil {
		return nil, err
	}
	m.cancelUnread = cancel
	return m, nil
}

// Open surfaces a conversation with the given peer. Opening the current
// user's own id is refused; a second call racing an in-flight open for the
// same peer is a no-op; an already-open window is maximized instead of
// duplicated. Otherwise the conversation is ensured, a fresh window with a
// live message stream is created and the conversation is marked read.
func (m *SessionManager) Open(ctx context.Context, peerID string, peerName string, peerAvatar string) error {
	if peerID == "" || peerID == m.identity.UserID {
		return ErrInvalidParticipants
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotFound
	}
	if _, inflight := m.opening[peerID]; inflight {
		m.mu.Unlock()
		return nil
	}
	if w := m.findByPeerLocked(peerID); w != nil {
		w.minimized = false
		key := w.key
		m.mu.Unlock()
		if err := m.store.MarkRead(ctx, key, m.identity.UserID); err != nil {
			m.logger.Warn("mark read failed on re-open", zap.String("conversation", key), zap.Error(err))
		}
		m.notify()
		return nil
	}
	m.opening[peerID] = struct{}{}
	m.mu.Unlock()

	// The in-flight marker must clear on every exit path or the peer would
	// be permanently unopenable after a failure.
	defer func() {
		m.mu.Lock()
		delete(m.opening, peerID)
		m.mu.Unlock()
	}()

	key, err := m.store.EnsureConversation(ctx, m.identity.UserID, peerID)
	if err != nil {
		return err
	}

	// The stream delivers its first window synchronously, before the window
	// is registered, so the callback writes into w directly and only
	// notifies once the window is visible.
	w := &openWindow{key: key, peerID: peerID, peerName: peerName, peerAvatar: peerAvatar}
	cancel, err := m.store.StreamMessages(ctx, key, func(msgs []models.Message) {
		m.mu.Lock()
		w.messages = msgs
		live := m.findByKeyLocked(key) == w
		m.mu.Unlock()
		if live {
			m.notify()
		}
	})
	if err != nil {
		return err
	}
	w.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrNotFound
	}
	m.windows = append(m.windows, w)
	m.mu.Unlock()

	if err := m.store.MarkRead(ctx, key, m.identity.UserID); err != nil {
		m.logger.Warn("mark read failed on open", zap.String("conversation", key), zap.Error(err))
	}
	m.notify()
	return nil
}

// Close removes a window and cancels its message stream. Closing an unknown
// key is a no-op; a send issued just before close still runs to completion.
func (m *SessionManager) Close(key string) {
	m.mu.Lock()
	var cancel func()
	for i, w := range m.windows {
		if w.key == key {
			cancel = w.cancel
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.notify()
}

// Minimize collapses a window without touching its stream or unread state.
func (m *SessionManager) Minimize(key string) {
	m.mu.Lock()
	w := m.findByKeyLocked(key)
	if w == nil {
		m.mu.Unlock()
		return
	}
	w.minimized = true
	m.mu.Unlock()
	m.notify()
}

// Maximize restores a minimized window and marks the conversation read.
func (m *SessionManager) Maximize(ctx context.Context, key string) error {
	m.mu.Lock()
	w := m.findByKeyLocked(key)
	if w == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	w.minimized = false
	m.mu.Unlock()

	if err := m.store.MarkRead(ctx, key, m.identity.UserID); err != nil {
		m.logger.Warn("mark read failed on maximize", zap.String("conversation", key), zap.Error(err))
	}
	m.notify()
	return nil
}

// Send appends a message to an open conversation. The cached list is not
// touched here; the live stream is the single source of truth and reflects
// the message once the store round-trips it.
func (m *SessionManager) Send(ctx context.Context, key string, content string) error {
	m.mu.Lock()
	w := m.findByKeyLocked(key)
	if w == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	peerID := w.peerID
	m.mu.Unlock()

	_, err := m.store.AppendMessage(ctx, m.identity.UserID, peerID, content, m.identity.DisplayName, m.identity.AvatarURL)
	return err
}

// Windows returns a snapshot of the open windows in insertion order.
func (m *SessionManager) Windows() []Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Window, 0, len(m.windows))
	for i, w := range m.windows {
		msgs := make([]models.Message, len(w.messages))
		copy(msgs, w.messages)
		out = append(out, Window{
			ConversationKey: w.key,
			PeerID:          w.peerID,
			PeerName:        w.peerName,
			PeerAvatar:      w.peerAvatar,
			Minimized:       w.minimized,
			Position:        i,
			Messages:        msgs,
		})
	}
	return out
}

// UnreadTotal returns the last observed unread total for the session user.
func (m *SessionManager) UnreadTotal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread
}

// Subscribe registers an observer notified after every state change. The
// returned func removes it.
func (m *SessionManager) Subscribe(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Shutdown ends the session: every stream and the unread subscription are
// cancelled and all windows dropped. The manager refuses further opens.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancels := make([]func(), 0, len(m.windows)+1)
	for _, w := range m.windows {
		cancels = append(cancels, w.cancel)
	}
	if m.cancelUnread != nil {
		cancels = append(cancels, m.cancelUnread)
	}
	m.windows = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (m *SessionManager) findByPeerLocked(peerID string) *openWindow {
	for _, w := range m.windows {
		if w.peerID == peerID {
			return w
		}
	}
	return nil
}

func (m *SessionManager) findByKeyLocked(key string) *openWindow {
	for _, w := range m.windows {
		if w.key == key {
			return w
		}
	}
	return nil
}

func (m *SessionManager) notify() {
	m.mu.Lock()
	handlers := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}
