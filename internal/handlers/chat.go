package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
	"messenger-service/internal/storage"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

// ChatHandler manages the chat directory, direct chat creation and the
// message endpoints.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	uploader    storage.Uploader
	hub         *ws.Hub
	notifier    *ws.Notifier
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, uploader storage.Uploader, hub *ws.Hub, notifier *ws.Notifier, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		uploader:    uploader,
		hub:         hub,
		notifier:    notifier,
		audit:       audit,
	}
}

// ListChats returns the caller's chat directory: most recent activity first,
// with last-message previews and unread counts.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.chatRepo.ListChatSummaries(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.hub != nil {
		for i, summary := range summaries {
			if summary.IsGroup {
				continue
			}
			for _, p := range summary.Participants {
				if p.UserID != userID && h.hub.IsUserOnline(p.UserID) {
					summaries[i].IsOnline = true
					break
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"chats": summaries})
}

// StartChat creates or returns the existing direct chat with another user.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		ParticipantID int `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id is required"})
		return
	}

	userID := c.GetInt("userID")
	exists, err := h.userRepo.UsersExist(c.Request.Context(), []int{req.ParticipantID})
	if err != nil {
		respondError(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown participant"})
		return
	}

	chat, err := h.chatRepo.CreateOrGetDirectChat(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat_id": chat.ID})
}

// GetChat returns a chat with its participants and messages in creation
// order. Opening the chat marks its messages read for the caller, so any
// resulting status advances fan out to the other participants.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	userID := c.GetInt("userID")

	chat, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, err)
		return
	}

	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this chat"})
		return
	}

	participants, err := h.chatRepo.GetParticipants(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	beforeID, _ := strconv.Atoi(c.Query("before"))
	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), chatID, userID, limit, beforeID)
	if err != nil {
		respondError(c, err)
		return
	}

	// Unread count as of opening, before the read marks land below; the
	// client uses it to place its new-messages divider.
	unread, err := h.messageRepo.UnreadCount(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	changes, err := h.messageRepo.MarkRead(c.Request.Context(), chatID, userID, 0)
	if err != nil {
		log.Printf("mark read failed chat=%d user=%d: %v", chatID, userID, err)
	} else if h.notifier != nil {
		h.notifier.StatusChanged(chatID, changes)
	}

	name := chat.Name
	avatar := chat.Avatar
	if !chat.IsGroup {
		for _, p := range participants {
			if p.UserID != userID {
				name = p.Name
				avatar = p.Avatar
				break
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"chat": gin.H{
			"id":           chat.ID,
			"name":         name,
			"avatar":       avatar,
			"is_group":     chat.IsGroup,
			"description":  chat.Description,
			"settings":     chat.Settings,
			"participants": participants,
			"unread_count": unread,
		},
		"messages": msgs,
	})
}

// PostChatMessage appends a message, with optional attachments, and fans it
// out to subscribed sessions.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	userID := c.GetInt("userID")

	content := c.PostForm("content")
	attachments, err := h.collectAttachments(c)
	if err != nil {
		h.emitAudit(c, "ERROR", "attachment upload failed")
		respondError(c, err)
		return
	}

	msg, err := h.messageRepo.AppendMessage(c.Request.Context(), chatID, userID, content, attachments)
	if err != nil {
		respondError(c, err)
		return
	}

	observability.IncMessage("user")
	if h.notifier != nil {
		h.notifier.MessageSent(chatID, msg)
	}
	h.emitAudit(c, "INFO", "message sent")

	c.JSON(http.StatusOK, msg)
}

// collectAttachments merges pre-uploaded attachment metadata with files
// carried on the request itself.
func (h *ChatHandler) collectAttachments(c *gin.Context) ([]models.Attachment, error) {
	var attachments []models.Attachment

	if raw := c.PostForm("attachments"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
			log.Printf("ignoring malformed attachments field: %v", err)
			attachments = nil
		}
	}

	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return attachments, nil
	}
	for _, fileHeader := range form.File["files"] {
		f, err := fileHeader.Open()
		if err != nil {
			return nil, err
		}
		url, err := h.uploader.Upload(c.Request.Context(), fileHeader.Filename, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, models.Attachment{
			Name:     fileHeader.Filename,
			MimeType: fileHeader.Header.Get("Content-Type"),
			Size:     fileHeader.Size,
			URL:      url,
		})
	}
	return attachments, nil
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
