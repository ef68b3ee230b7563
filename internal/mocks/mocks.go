package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kdsun75/comprj/internal/models"
	"github.com/kdsun75/comprj/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)

func (m *ConversationRepositoryMock) EnsureConversation(ctx context.Context, key string, userA string, userB string) error {
	args := m.Called(ctx, key, userA, userB)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, key string) (models.Conversation, error) {
	args := m.Called(ctx, key)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) SetLastMessage(ctx context.Context, key string, content string, sentAt int64, senderID string) error {
	args := m.Called(ctx, key, content, sentAt, senderID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)

func (m *MessageRepositoryMock) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) RecentMessages(ctx context.Context, key string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, key, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type InboxRepositoryMock struct {
	mock.Mock
}

var _ repositories.InboxRepository = (*InboxRepositoryMock)(nil)

func (m *InboxRepositoryMock) UpsertSenderRow(ctx context.Context, userID string, key string, peerID string, lastMessage string, lastMessageAt int64) error {
	args := m.Called(ctx, userID, key, peerID, lastMessage, lastMessageAt)
	return args.Error(0)
}

func (m *InboxRepositoryMock) BumpReceiverRow(ctx context.Context, userID string, key string, peerID string, lastMessage string, lastMessageAt int64) error {
	args := m.Called(ctx, userID, key, peerID, lastMessage, lastMessageAt)
	return args.Error(0)
}

func (m *InboxRepositoryMock) MarkRead(ctx context.Context, userID string, key string) error {
	args := m.Called(ctx, userID, key)
	return args.Error(0)
}

func (m *InboxRepositoryMock) ListRows(ctx context.Context, userID string) ([]models.InboxRow, error) {
	args := m.Called(ctx, userID)
	var rows []models.InboxRow
	if val := args.Get(0); val != nil {
		rows = val.([]models.InboxRow)
	}
	return rows, args.Error(1)
}

func (m *InboxRepositoryMock) TotalUnread(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type ChatStoreMock struct {
	mock.Mock
}

func (m *ChatStoreMock) EnsureConversation(ctx context.Context, userID string, peerID string) (string, error) {
	args := m.Called(ctx, userID, peerID)
	return args.String(0), args.Error(1)
}

func (m *ChatStoreMock) GetConversation(ctx context.Context, key string) (models.Conversation, error) {
	args := m.Called(ctx, key)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ChatStoreMock) AppendMessage(ctx context.Context, senderID string, receiverID string, content string, senderName string, senderAvatar string) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content, senderName, senderAvatar)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatStoreMock) RecentMessages(ctx context.Context, key string) ([]models.Message, error) {
	args := m.Called(ctx, key)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatStoreMock) MarkRead(ctx context.Context, key string, userID string) error {
	args := m.Called(ctx, key, userID)
	return args.Error(0)
}

func (m *ChatStoreMock) ListInbox(ctx context.Context, userID string) ([]models.InboxRow, error) {
	args := m.Called(ctx, userID)
	var rows []models.InboxRow
	if val := args.Get(0); val != nil {
		rows = val.([]models.InboxRow)
	}
	return rows, args.Error(1)
}

func (m *ChatStoreMock) TotalUnread(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)

func (m *UserRepositoryMock) BulkUsers(ctx context.Context, ids []string) ([]models.User, error) {
	args := m.Called(ctx, ids)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) UpsertUser(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}
