package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"messenger-service/internal/models"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) CreateOrGetDirectChat(ctx context.Context, userID int, friendID int) (models.Chat, error) {
	args := m.Called(ctx, userID, friendID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) CreateGroupChat(ctx context.Context, creatorID int, name, description, avatar string, memberIDs []int) (models.Chat, error) {
	args := m.Called(ctx, creatorID, name, description, avatar, memberIDs)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetParticipants(ctx context.Context, chatID int) ([]models.Participant, error) {
	args := m.Called(ctx, chatID)
	var list []models.Participant
	if val := args.Get(0); val != nil {
		list = val.([]models.Participant)
	}
	return list, args.Error(1)
}

func (m *ChatRepositoryMock) IsParticipant(ctx context.Context, chatID int, userID int) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) AddParticipant(ctx context.Context, chatID, actorID, targetID int) (models.Message, error) {
	args := m.Called(ctx, chatID, actorID, targetID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatRepositoryMock) RemoveParticipant(ctx context.Context, chatID, actorID, targetID int) (models.Message, error) {
	args := m.Called(ctx, chatID, actorID, targetID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatRepositoryMock) PromoteAdmin(ctx context.Context, chatID, actorID, targetID int) (models.Message, error) {
	args := m.Called(ctx, chatID, actorID, targetID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatRepositoryMock) UpdateGroup(ctx context.Context, chatID, actorID int, upd models.GroupUpdate) (models.Chat, error) {
	args := m.Called(ctx, chatID, actorID, upd)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) DeleteGroup(ctx context.Context, chatID, actorID int) error {
	args := m.Called(ctx, chatID, actorID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) ListChatSummaries(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) AppendMessage(ctx context.Context, chatID, senderID int, content string, attachments []models.Attachment) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, content, attachments)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, chatID, requesterID, limit, beforeID int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, requesterID, limit, beforeID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, chatID, readerID, upToID int) ([]models.StatusChange, error) {
	args := m.Called(ctx, chatID, readerID, upToID)
	var changes []models.StatusChange
	if val := args.Get(0); val != nil {
		changes = val.([]models.StatusChange)
	}
	return changes, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, chatID, readerID, messageID int) ([]models.StatusChange, error) {
	args := m.Called(ctx, chatID, readerID, messageID)
	var changes []models.StatusChange
	if val := args.Get(0); val != nil {
		changes = val.([]models.StatusChange)
	}
	return changes, args.Error(1)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, chatID, userID int) (int, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Int(0), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) EnsureUser(ctx context.Context, id int, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}

func (m *UserRepositoryMock) UsersExist(ctx context.Context, ids []int) (bool, error) {
	args := m.Called(ctx, ids)
	return args.Bool(0), args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	args := m.Called(ctx, filename, r)
	return args.String(0), args.Error(1)
}
