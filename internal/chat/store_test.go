package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kdsun75/comprj/internal/mocks"
	"github.com/kdsun75/comprj/internal/models"
	"github.com/kdsun75/comprj/internal/repositories"
)

func newTestStore() (*Store, *mocks.ConversationRepositoryMock, *mocks.MessageRepositoryMock, *mocks.InboxRepositoryMock) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	inboxRepo := new(mocks.InboxRepositoryMock)
	store := NewStore(convRepo, msgRepo, inboxRepo, zap.NewNop())
	return store, convRepo, msgRepo, inboxRepo
}

func TestEnsureConversationSortsParticipants(t *testing.T) {
	store, convRepo, _, _ := newTestStore()

	convRepo.On("EnsureConversation", mock.Anything, "amy_zed", "amy", "zed").Return(nil).Once()

	key, err := store.EnsureConversation(context.Background(), "zed", "amy")
	require.NoError(t, err)
	assert.Equal(t, "amy_zed", key)
	convRepo.AssertExpectations(t)
}

func TestEnsureConversationRejectsSelf(t *testing.T) {
	store, convRepo, _, _ := newTestStore()

	_, err := store.EnsureConversation(context.Background(), "amy", "amy")
	assert.ErrorIs(t, err, ErrInvalidParticipants)
	convRepo.AssertNotCalled(t, "EnsureConversation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAppendMessageEmptyContent(t *testing.T) {
	store, _, msgRepo, inboxRepo := newTestStore()

	_, err := store.AppendMessage(context.Background(), "amy", "zed", "   ", "Amy", "")
	assert.ErrorIs(t, err, ErrEmptyContent)
	msgRepo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
	inboxRepo.AssertNotCalled(t, "UpsertSenderRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAppendMessageProjectsBothInboxRows(t *testing.T) {
	store, convRepo, msgRepo, inboxRepo := newTestStore()

	stored := models.Message{ID: 7, ConversationKey: "amy_zed", SenderID: "amy", ReceiverID: "zed", Content: "hello", SentAt: 42}
	msgRepo.On("AppendMessage", mock.Anything, mock.MatchedBy(func(msg models.Message) bool {
		return msg.ConversationKey == "amy_zed" && msg.SenderID == "amy" && msg.Content == "hello"
	})).Return(stored, nil).Once()
	convRepo.On("SetLastMessage", mock.Anything, "amy_zed", "hello", int64(42), "amy").Return(nil).Once()
	inboxRepo.On("UpsertSenderRow", mock.Anything, "amy", "amy_zed", "zed", "hello", int64(42)).Return(nil).Once()
	inboxRepo.On("BumpReceiverRow", mock.Anything, "zed", "amy_zed", "amy", "hello", int64(42)).Return(nil).Once()

	msg, err := store.AppendMessage(context.Background(), "amy", "zed", "hello", "Amy", "")
	require.NoError(t, err)
	assert.Equal(t, 7, msg.ID)

	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	inboxRepo.AssertExpectations(t)
}

func TestAppendMessageSurvivesProjectionFailure(t *testing.T) {
	store, convRepo, msgRepo, inboxRepo := newTestStore()

	stored := models.Message{ID: 8, ConversationKey: "amy_zed", SenderID: "amy", ReceiverID: "zed", Content: "hi", SentAt: 50}
	msgRepo.On("AppendMessage", mock.Anything, mock.Anything).Return(stored, nil).Once()
	convRepo.On("SetLastMessage", mock.Anything, "amy_zed", "hi", int64(50), "amy").Return(nil).Once()
	inboxRepo.On("UpsertSenderRow", mock.Anything, "amy", "amy_zed", "zed", "hi", int64(50)).Return(assert.AnError).Once()
	inboxRepo.On("BumpReceiverRow", mock.Anything, "zed", "amy_zed", "amy", "hi", int64(50)).Return(assert.AnError).Once()

	msg, err := store.AppendMessage(context.Background(), "amy", "zed", "hi", "Amy", "")
	require.NoError(t, err)
	assert.Equal(t, 8, msg.ID)
	inboxRepo.AssertExpectations(t)
}

func TestAppendMessagePublishesToSubscribers(t *testing.T) {
	store, convRepo, msgRepo, inboxRepo := newTestStore()

	stored := models.Message{ID: 9, ConversationKey: "amy_zed", SenderID: "amy", ReceiverID: "zed", Content: "ping", SentAt: 60}
	msgRepo.On("AppendMessage", mock.Anything, mock.Anything).Return(stored, nil).Once()
	convRepo.On("SetLastMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	inboxRepo.On("UpsertSenderRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	inboxRepo.On("BumpReceiverRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	var received []models.Message
	cancel := store.broker.subscribeMessages("amy_zed", func(msg models.Message) { received = append(received, msg) })
	defer cancel()

	signals := map[string]int{}
	cancelAmy := store.broker.subscribeInbox("amy", func() { signals["amy"]++ })
	defer cancelAmy()
	cancelZed := store.broker.subscribeInbox("zed", func() { signals["zed"]++ })
	defer cancelZed()

	_, err := store.AppendMessage(context.Background(), "amy", "zed", "ping", "Amy", "")
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, 9, received[0].ID)
	assert.Equal(t, 1, signals["amy"])
	assert.Equal(t, 1, signals["zed"])
}

func TestStreamMessagesDeliversSnapshotThenUpdates(t *testing.T) {
	store, _, msgRepo, _ := newTestStore()

	initial := []models.Message{{ID: 1, Content: "first", SentAt: 10}}
	msgRepo.On("RecentMessages", mock.Anything, "amy_zed", MessageWindow).Return(initial, nil).Once()

	var windows [][]models.Message
	cancel, err := store.StreamMessages(context.Background(), "amy_zed", func(msgs []models.Message) {
		windows = append(windows, msgs)
	})
	require.NoError(t, err)
	defer cancel()

	store.broker.publishMessage("amy_zed", models.Message{ID: 2, Content: "second", SentAt: 20})

	require.Len(t, windows, 2)
	assert.Len(t, windows[0], 1)
	require.Len(t, windows[1], 2)
	assert.Equal(t, "second", windows[1][1].Content)
}

func TestStreamMessagesDedupesRacedAppend(t *testing.T) {
	store, _, msgRepo, _ := newTestStore()

	// the initial load already contains message 2, so the live event for it
	// must not produce a duplicate
	initial := []models.Message{{ID: 1, SentAt: 10}, {ID: 2, SentAt: 20}}
	msgRepo.On("RecentMessages", mock.Anything, "amy_zed", MessageWindow).Return(initial, nil).Once()

	var windows [][]models.Message
	cancel, err := store.StreamMessages(context.Background(), "amy_zed", func(msgs []models.Message) {
		windows = append(windows, msgs)
	})
	require.NoError(t, err)
	defer cancel()

	store.broker.publishMessage("amy_zed", models.Message{ID: 2, SentAt: 20})

	require.Len(t, windows, 2)
	assert.Len(t, windows[1], 2)
}

func TestStreamMessagesLoadFailureCancelsSubscription(t *testing.T) {
	store, _, msgRepo, _ := newTestStore()

	msgRepo.On("RecentMessages", mock.Anything, "amy_zed", MessageWindow).Return(([]models.Message)(nil), assert.AnError).Once()

	_, err := store.StreamMessages(context.Background(), "amy_zed", func([]models.Message) {
		t.Fatal("no delivery expected")
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	store.broker.publishMessage("amy_zed", models.Message{ID: 1})
}

func TestMarkReadSignalsInbox(t *testing.T) {
	store, _, _, inboxRepo := newTestStore()

	inboxRepo.On("MarkRead", mock.Anything, "amy", "amy_zed").Return(nil).Once()

	signalled := 0
	cancel := store.broker.subscribeInbox("amy", func() { signalled++ })
	defer cancel()

	require.NoError(t, store.MarkRead(context.Background(), "amy_zed", "amy"))
	assert.Equal(t, 1, signalled)
	inboxRepo.AssertExpectations(t)
}

func TestSubscribeTotalUnreadReactsToChanges(t *testing.T) {
	store, _, _, inboxRepo := newTestStore()

	inboxRepo.On("TotalUnread", mock.Anything, "amy").Return(3, nil).Once()
	inboxRepo.On("TotalUnread", mock.Anything, "amy").Return(5, nil).Once()

	var totals []int
	cancel, err := store.SubscribeTotalUnread(context.Background(), "amy", func(total int) {
		totals = append(totals, total)
	})
	require.NoError(t, err)
	defer cancel()

	store.broker.signalInbox("amy")

	assert.Equal(t, []int{3, 5}, totals)
	inboxRepo.AssertExpectations(t)
}

func TestSubscribeTotalUnreadCatchesChangeDuringInitialLoad(t *testing.T) {
	store, _, _, inboxRepo := newTestStore()

	// a send lands while the initial total is being read; the fresher total
	// must still be delivered after the initial one
	inboxRepo.On("TotalUnread", mock.Anything, "amy").Return(3, nil).Once().Run(func(mock.Arguments) {
		store.broker.signalInbox("amy")
	})
	inboxRepo.On("TotalUnread", mock.Anything, "amy").Return(5, nil).Once()

	var totals []int
	cancel, err := store.SubscribeTotalUnread(context.Background(), "amy", func(total int) {
		totals = append(totals, total)
	})
	require.NoError(t, err)
	defer cancel()

	assert.Equal(t, []int{3, 5}, totals)
	inboxRepo.AssertExpectations(t)
}

func TestSubscribeInboxRedeliversOnChange(t *testing.T) {
	store, _, _, inboxRepo := newTestStore()

	first := []models.InboxRow{{UserID: "amy", ConversationKey: "amy_zed", PeerID: "zed", UnreadCount: 1}}
	second := []models.InboxRow{
		{UserID: "amy", ConversationKey: "amy_bob", PeerID: "bob", UnreadCount: 1},
		{UserID: "amy", ConversationKey: "amy_zed", PeerID: "zed", UnreadCount: 0},
	}
	inboxRepo.On("ListRows", mock.Anything, "amy").Return(first, nil).Once()
	inboxRepo.On("ListRows", mock.Anything, "amy").Return(second, nil).Once()

	var listings [][]models.InboxRow
	cancel, err := store.SubscribeInbox(context.Background(), "amy", func(rows []models.InboxRow) {
		listings = append(listings, rows)
	})
	require.NoError(t, err)
	defer cancel()

	store.broker.signalInbox("amy")

	require.Len(t, listings, 2)
	assert.Equal(t, "zed", listings[0][0].PeerID)
	assert.Len(t, listings[1], 2)
	inboxRepo.AssertExpectations(t)
}

func TestSubscribeInboxLoadFailureCancelsSubscription(t *testing.T) {
	store, _, _, inboxRepo := newTestStore()

	inboxRepo.On("ListRows", mock.Anything, "amy").Return(([]models.InboxRow)(nil), assert.AnError).Once()

	_, err := store.SubscribeInbox(context.Background(), "amy", func([]models.InboxRow) {
		t.Fatal("no delivery expected")
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	store.broker.signalInbox("amy")
}

func TestGetConversationMapsNotFound(t *testing.T) {
	store, convRepo, _, _ := newTestStore()

	convRepo.On("GetConversation", mock.Anything, "amy_zed").Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	_, err := store.GetConversation(context.Background(), "amy_zed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetConversationWrapsStoreFailure(t *testing.T) {
	store, convRepo, _, _ := newTestStore()

	convRepo.On("GetConversation", mock.Anything, "amy_zed").Return(models.Conversation{}, assert.AnError).Once()

	_, err := store.GetConversation(context.Background(), "amy_zed")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
