package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/apperrors"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.POST("/chats", handler.StartChat)
	r.GET("/chats/:chat_id", handler.GetChat)
	r.POST("/chats/:chat_id/messages", handler.PostChatMessage)
	return r
}

func TestListChatsSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	chatRepo.On("ListChatSummaries", mock.Anything, 1).Return([]models.ChatSummary{
		{ChatID: 3, Name: "bob", UnreadCount: 2},
		{ChatID: 7, Name: "team", IsGroup: true},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 2)
	assert.Equal(t, 2, resp.Chats[0].UnreadCount)
	chatRepo.AssertExpectations(t)
}

func TestListChatsRepoError(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	chatRepo.On("ListChatSummaries", mock.Anything, 1).Return(([]models.ChatSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestStartChatSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, userRepo, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	userRepo.On("UsersExist", mock.Anything, []int{2}).Return(true, nil).Once()
	chatRepo.On("CreateOrGetDirectChat", mock.Anything, 1, 2).Return(models.Chat{ID: 10}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"participant_id":2}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 10, resp["chat_id"])
	chatRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestStartChatIdempotent(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, userRepo, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	userRepo.On("UsersExist", mock.Anything, []int{2}).Return(true, nil).Twice()
	chatRepo.On("CreateOrGetDirectChat", mock.Anything, 1, 2).Return(models.Chat{ID: 10}, nil).Twice()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"participant_id":2}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]int
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, 10, resp["chat_id"])
	}
	chatRepo.AssertExpectations(t)
}

func TestStartChatUnknownParticipant(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(new(mocks.ChatRepositoryMock), nil, userRepo, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	userRepo.On("UsersExist", mock.Anything, []int{99}).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"participant_id":99}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	userRepo.AssertExpectations(t)
}

func TestStartChatWithSelfRejected(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, userRepo, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	userRepo.On("UsersExist", mock.Anything, []int{1}).Return(true, nil).Once()
	chatRepo.On("CreateOrGetDirectChat", mock.Anything, 1, 1).
		Return(models.Chat{}, apperrors.Validation("cannot start a chat with yourself")).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"participant_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestGetChatNotParticipant(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	chatRepo.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestGetChatUnknownChatIs404(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	// An unknown chat is not found, even for a caller who would not be a
	// member of it.
	chatRepo.On("GetChat", mock.Anything, 404).
		Return(models.Chat{}, apperrors.NotFound("chat 404 not found")).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/404", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	chatRepo.AssertExpectations(t)
	chatRepo.AssertNotCalled(t, "IsParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetChatMarksRead(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewChatHandler(chatRepo, messageRepo, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	chatRepo.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	chatRepo.On("GetParticipants", mock.Anything, 5).Return([]models.Participant{
		{UserID: 1, Name: "alice"},
		{UserID: 2, Name: "bob"},
	}, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, 5, 1, 0, 0).Return([]models.Message{
		{ID: 1, ChatID: 5, SenderID: 2, Content: "hi"},
	}, nil).Once()
	messageRepo.On("UnreadCount", mock.Anything, 5, 1).Return(1, nil).Once()
	messageRepo.On("MarkRead", mock.Anything, 5, 1, 0).Return([]models.StatusChange{
		{MessageID: 1, Status: "read"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chat struct {
			Name        string `json:"name"`
			UnreadCount int    `json:"unread_count"`
		} `json:"chat"`
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	// direct chat shows the other participant's name
	assert.Equal(t, "bob", resp.Chat.Name)
	// unread count reflects the state before the open marked things read
	assert.Equal(t, 1, resp.Chat.UnreadCount)
	require.Len(t, resp.Messages, 1)
	chatRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestPostChatMessageSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewChatHandler(new(mocks.ChatRepositoryMock), messageRepo, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	messageRepo.On("AppendMessage", mock.Anything, 5, 1, "hello", ([]models.Attachment)(nil)).
		Return(models.Message{ID: 42, ChatID: 5, SenderID: 1, Content: "hello", Status: "sent"}, nil).Once()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.WriteField("content", "hello"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, 42, msg.ID)
	assert.Equal(t, "sent", string(msg.Status))
	messageRepo.AssertExpectations(t)
}

func TestPostChatMessageWithFile(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	uploader := new(mocks.UploaderMock)
	handler := NewChatHandler(new(mocks.ChatRepositoryMock), messageRepo, nil, uploader, nil, nil, nil)
	router := setupChatRouter(handler)

	uploader.On("Upload", mock.Anything, "pic.png", mock.Anything).Return("/uploads/abc-pic.png", nil).Once()
	messageRepo.On("AppendMessage", mock.Anything, 5, 1, "", mock.MatchedBy(func(atts []models.Attachment) bool {
		return len(atts) == 1 && atts[0].URL == "/uploads/abc-pic.png" && atts[0].Name == "pic.png"
	})).Return(models.Message{ID: 43, ChatID: 5}, nil).Once()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("files", "pic.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	uploader.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestPostChatMessageNotMember(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewChatHandler(new(mocks.ChatRepositoryMock), messageRepo, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	messageRepo.On("AppendMessage", mock.Anything, 5, 1, "hi", ([]models.Attachment)(nil)).
		Return(models.Message{}, apperrors.Authorization("not a participant of chat 5")).Once()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.WriteField("content", "hi"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestPostChatMessageEmptyRejected(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewChatHandler(new(mocks.ChatRepositoryMock), messageRepo, nil, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	messageRepo.On("AppendMessage", mock.Anything, 5, 1, "", ([]models.Attachment)(nil)).
		Return(models.Message{}, apperrors.Validation("message must have content or attachments")).Once()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertExpectations(t)
}
