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

func setupGroupRouter(handler *GroupHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.POST("/groups", handler.CreateGroup)
	r.PUT("/groups/:group_id", handler.UpdateGroup)
	r.DELETE("/groups/:group_id", handler.DeleteGroup)
	r.POST("/groups/:group_id/participants", handler.AddParticipant)
	r.DELETE("/groups/:group_id/participants", handler.RemoveParticipant)
	r.POST("/groups/:group_id/admins", handler.PromoteAdmin)
	return r
}

func TestCreateGroupSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewGroupHandler(chatRepo, userRepo, nil, nil, nil)
	router := setupGroupRouter(handler)

	userRepo.On("UsersExist", mock.Anything, []int{2, 3}).Return(true, nil).Once()
	chatRepo.On("CreateGroupChat", mock.Anything, 1, "team", "the team", "", []int{2, 3}).
		Return(models.Chat{ID: 9, IsGroup: true, Name: "team"}, nil).Once()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.WriteField("name", "team"))
	require.NoError(t, form.WriteField("description", "the team"))
	require.NoError(t, form.WriteField("participants", "[2,3]"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/groups", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chat models.Chat `json:"chat"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 9, resp.Chat.ID)
	assert.True(t, resp.Chat.IsGroup)
	chatRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestCreateGroupEmptyNameRejected(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("CreateGroupChat", mock.Anything, 1, "", "", "", ([]int)(nil)).
		Return(models.Chat{}, apperrors.Validation("group name is required")).Once()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/groups", body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestUpdateGroupLockedForNonAdmin(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("UpdateGroup", mock.Anything, 9, 1, mock.Anything).
		Return(models.Chat{}, apperrors.Authorization("only admins can edit group info")).Once()

	req := httptest.NewRequest(http.MethodPut, "/groups/9", bytes.NewBufferString(`{"name":"renamed"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestUpdateGroupSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	newName := "renamed"
	chatRepo.On("UpdateGroup", mock.Anything, 9, 1, models.GroupUpdate{Name: &newName}).
		Return(models.Chat{ID: 9, IsGroup: true, Name: "renamed"}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/groups/9", bytes.NewBufferString(`{"name":"renamed"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestDeleteGroupSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("DeleteGroup", mock.Anything, 9, 1).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestAddParticipantSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("AddParticipant", mock.Anything, 9, 1, 4).
		Return(models.Message{ID: 100, ChatID: 9, IsSystem: true}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/9/participants", bytes.NewBufferString(`{"participant_id":4}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestAddParticipantAlreadyMember(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("AddParticipant", mock.Anything, 9, 1, 4).
		Return(models.Message{}, apperrors.Conflict("user 4 is already a participant")).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/9/participants", bytes.NewBufferString(`{"participant_id":4}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestRemoveLastAdminRejected(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("RemoveParticipant", mock.Anything, 9, 1, 1).
		Return(models.Message{}, apperrors.Validation("cannot remove the last admin")).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/9/participants", bytes.NewBufferString(`{"participant_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestRemoveParticipantNotMember(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("RemoveParticipant", mock.Anything, 9, 1, 4).
		Return(models.Message{}, apperrors.NotFound("user 4 is not a participant")).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/9/participants", bytes.NewBufferString(`{"participant_id":4}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestPromoteAdminIdempotent(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	// promoting an existing admin succeeds with no system message
	chatRepo.On("PromoteAdmin", mock.Anything, 9, 1, 2).Return(models.Message{}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/9/admins", bytes.NewBufferString(`{"participant_id":2}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestPromoteAdminRequiresAdmin(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewGroupHandler(chatRepo, new(mocks.UserRepositoryMock), nil, nil, nil)
	router := setupGroupRouter(handler)

	chatRepo.On("PromoteAdmin", mock.Anything, 9, 1, 2).
		Return(models.Message{}, apperrors.Authorization("admin rights required")).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/9/admins", bytes.NewBufferString(`{"participant_id":2}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	chatRepo.AssertExpectations(t)
}
