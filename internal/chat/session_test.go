package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kdsun75/comprj/internal/models"
)

// fakeSessionStore implements SessionStore in-process. StreamMessages mimics
// the real store: the initial window is delivered synchronously before the
// subscription returns, later windows arrive via push.
type fakeSessionStore struct {
	mu          sync.Mutex
	initial     []models.Message
	streams     map[string]func([]models.Message)
	streamCount map[string]int
	markReads   []string
	appends     []string
	ensureHook  func(peerID string)
	ensureErr   error
	unreadFn    func(int)
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		streams:     make(map[string]func([]models.Message)),
		streamCount: make(map[string]int),
	}
}

func (f *fakeSessionStore) EnsureConversation(_ context.Context, userID string, peerID string) (string, error) {
	if f.ensureHook != nil {
		f.ensureHook(peerID)
	}
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	return ConversationKey(userID, peerID)
}

func (f *fakeSessionStore) AppendMessage(_ context.Context, senderID string, receiverID string, content string, senderName string, senderAvatar string) (models.Message, error) {
	f.mu.Lock()
	f.appends = append(f.appends, senderID+">"+receiverID+":"+content)
	f.mu.Unlock()
	return models.Message{ID: 99, SenderID: senderID, ReceiverID: receiverID, Content: content}, nil
}

func (f *fakeSessionStore) StreamMessages(_ context.Context, key string, fn func([]models.Message)) (func(), error) {
	f.mu.Lock()
	f.streams[key] = fn
	f.streamCount[key]++
	initial := f.initial
	f.mu.Unlock()
	fn(initial)
	return func() {
		f.mu.Lock()
		delete(f.streams, key)
		f.mu.Unlock()
	}, nil
}

func (f *fakeSessionStore) MarkRead(_ context.Context, key string, userID string) error {
	f.mu.Lock()
	f.markReads = append(f.markReads, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeSessionStore) SubscribeTotalUnread(_ context.Context, _ string, fn func(int)) (func(), error) {
	fn(0)
	f.mu.Lock()
	f.unreadFn = fn
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeSessionStore) push(key string, msgs []models.Message) {
	f.mu.Lock()
	fn := f.streams[key]
	f.mu.Unlock()
	if fn != nil {
		fn(msgs)
	}
}

func newTestManager(t *testing.T, store *fakeSessionStore) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(context.Background(), store, Identity{UserID: "amy", DisplayName: "Amy"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func TestNewSessionManagerRequiresUser(t *testing.T) {
	_, err := NewSessionManager(context.Background(), newFakeSessionStore(), Identity{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestOpenCreatesWindowWithInitialMessages(t *testing.T) {
	store := newFakeSessionStore()
	store.initial = []models.Message{{ID: 1, Content: "earlier"}}
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))

	windows := m.Windows()
	require.Len(t, windows, 1)
	assert.Equal(t, "amy_zed", windows[0].ConversationKey)
	assert.Equal(t, "Zed", windows[0].PeerName)
	assert.False(t, windows[0].Minimized)
	require.Len(t, windows[0].Messages, 1)
	assert.Equal(t, "earlier", windows[0].Messages[0].Content)
	assert.Equal(t, []string{"amy_zed"}, store.markReads)
}

func TestOpenSelfRejected(t *testing.T) {
	m := newTestManager(t, newFakeSessionStore())

	assert.ErrorIs(t, m.Open(context.Background(), "amy", "Me", ""), ErrInvalidParticipants)
	assert.Empty(t, m.Windows())
}

func TestOpenWhileOpeningSamePeerIsNoop(t *testing.T) {
	store := newFakeSessionStore()
	var m *SessionManager

	var reentrantErr error
	reentered := false
	store.ensureHook = func(peerID string) {
		if !reentered {
			reentered = true
			reentrantErr = m.Open(context.Background(), peerID, "Zed", "")
		}
	}
	m = newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	assert.NoError(t, reentrantErr)
	assert.Len(t, m.Windows(), 1)
	assert.Equal(t, 1, store.streamCount["amy_zed"])
}

func TestOpenExistingPeerMaximizes(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	m.Minimize("amy_zed")
	require.True(t, m.Windows()[0].Minimized)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))

	windows := m.Windows()
	require.Len(t, windows, 1)
	assert.False(t, windows[0].Minimized)
	// no second stream was started
	assert.Equal(t, 1, store.streamCount["amy_zed"])
	// re-open marks read again
	assert.Equal(t, []string{"amy_zed", "amy_zed"}, store.markReads)
}

func TestOpenFailureClearsInflightMarker(t *testing.T) {
	store := newFakeSessionStore()
	store.ensureErr = assert.AnError
	m := newTestManager(t, store)

	require.Error(t, m.Open(context.Background(), "zed", "Zed", ""))

	// the peer must be openable again after the failure
	store.ensureErr = nil
	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	assert.Len(t, m.Windows(), 1)
}

func TestCloseCancelsStream(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	m.Close("amy_zed")

	assert.Empty(t, m.Windows())
	assert.Empty(t, store.streams)

	// closing an unknown key is a no-op
	m.Close("amy_zed")
}

func TestCloseThenReopenStartsFreshStream(t *testing.T) {
	store := newFakeSessionStore()
	store.initial = []models.Message{{ID: 1, Content: "old"}}
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	store.push("amy_zed", []models.Message{{ID: 1}, {ID: 2}})
	m.Close("amy_zed")

	store.initial = []models.Message{{ID: 1}, {ID: 2}, {ID: 3}}
	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))

	windows := m.Windows()
	require.Len(t, windows, 1)
	assert.Len(t, windows[0].Messages, 3)
	assert.Equal(t, 2, store.streamCount["amy_zed"])
}

func TestStreamUpdatesReplaceWindowMessages(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))

	notified := 0
	cancel := m.Subscribe(func() { notified++ })
	defer cancel()

	store.push("amy_zed", []models.Message{{ID: 1, Content: "live"}})

	windows := m.Windows()
	require.Len(t, windows[0].Messages, 1)
	assert.Equal(t, "live", windows[0].Messages[0].Content)
	assert.Equal(t, 1, notified)
}

func TestSendDelegatesWithoutTouchingCache(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	before := len(m.Windows()[0].Messages)

	require.NoError(t, m.Send(context.Background(), "amy_zed", "hello"))

	assert.Equal(t, []string{"amy>zed:hello"}, store.appends)
	// the cached list only changes when the stream round-trips the message
	assert.Len(t, m.Windows()[0].Messages, before)
}

func TestSendUnknownWindow(t *testing.T) {
	m := newTestManager(t, newFakeSessionStore())

	assert.ErrorIs(t, m.Send(context.Background(), "amy_zed", "hello"), ErrNotFound)
}

func TestMaximizeMarksRead(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	m.Minimize("amy_zed")
	require.NoError(t, m.Maximize(context.Background(), "amy_zed"))

	assert.False(t, m.Windows()[0].Minimized)
	assert.Equal(t, []string{"amy_zed", "amy_zed"}, store.markReads)

	assert.ErrorIs(t, m.Maximize(context.Background(), "missing"), ErrNotFound)
}

func TestUnreadTotalTracksStore(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestManager(t, store)

	assert.Equal(t, 0, m.UnreadTotal())

	notified := 0
	cancel := m.Subscribe(func() { notified++ })
	defer cancel()

	store.mu.Lock()
	fn := store.unreadFn
	store.mu.Unlock()
	fn(4)

	assert.Equal(t, 4, m.UnreadTotal())
	assert.Equal(t, 1, notified)
}

func TestWindowPositionsShiftOnClose(t *testing.T) {
	store := newFakeSessionStore()
	m := newTestManager(t, store)

	require.NoError(t, m.Open(context.Background(), "bob", "Bob", ""))
	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))

	windows := m.Windows()
	require.Len(t, windows, 2)
	assert.Equal(t, 0, windows[0].Position)
	assert.Equal(t, 1, windows[1].Position)

	m.Close(windows[0].ConversationKey)

	windows = m.Windows()
	require.Len(t, windows, 1)
	assert.Equal(t, "amy_zed", windows[0].ConversationKey)
	assert.Equal(t, 0, windows[0].Position)
}

func TestShutdownRefusesFurtherOpens(t *testing.T) {
	store := newFakeSessionStore()
	m, err := NewSessionManager(context.Background(), store, Identity{UserID: "amy"}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.Open(context.Background(), "zed", "Zed", ""))
	m.Shutdown()

	assert.Empty(t, m.Windows())
	assert.Empty(t, store.streams)
	assert.ErrorIs(t, m.Open(context.Background(), "zed", "Zed", ""), ErrNotFound)
}
