package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/storage"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

// GroupHandler covers group lifecycle and membership management.
type GroupHandler struct {
	chatRepo repositories.ChatRepository
	userRepo repositories.UserRepository
	uploader storage.Uploader
	notifier *ws.Notifier
	audit    *telemetry.AuditEmitter
}

// NewGroupHandler builds a GroupHandler.
func NewGroupHandler(chatRepo repositories.ChatRepository, userRepo repositories.UserRepository, uploader storage.Uploader, notifier *ws.Notifier, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		chatRepo: chatRepo,
		userRepo: userRepo,
		uploader: uploader,
		notifier: notifier,
		audit:    audit,
	}
}

// CreateGroup creates a group chat. The request is multipart: name,
// description, a JSON array of participant ids and an optional avatar file.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID := c.GetInt("userID")

	name := c.PostForm("name")
	description := c.PostForm("description")

	var memberIDs []int
	if raw := c.PostForm("participants"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &memberIDs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participants must be a JSON array of user ids"})
			return
		}
	}

	if len(memberIDs) > 0 {
		exist, err := h.userRepo.UsersExist(c.Request.Context(), memberIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		if !exist {
			c.JSON(http.StatusBadRequest, gin.H{"error": "one or more participants do not exist"})
			return
		}
	}

	avatar := ""
	if fileHeader, err := c.FormFile("avatar"); err == nil {
		f, err := fileHeader.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		avatar, err = h.uploader.Upload(c.Request.Context(), fileHeader.Filename, f)
		f.Close()
		if err != nil {
			h.emitAudit(c, "ERROR", "group avatar upload failed")
			respondError(c, err)
			return
		}
	}

	chat, err := h.chatRepo.CreateGroupChat(c.Request.Context(), userID, name, description, avatar, memberIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "group created")
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// UpdateGroup edits a group's name, description, avatar or settings.
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	userID := c.GetInt("userID")

	var upd models.GroupUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed group update"})
		return
	}

	chat, err := h.chatRepo.UpdateGroup(c.Request.Context(), groupID, userID, upd)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.notifier != nil {
		h.notifier.MembershipChanged(groupID, "group-updated", userID, models.Message{})
	}
	h.emitAudit(c, "INFO", "group updated")
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// DeleteGroup removes a group and everything attached to it. Admin only.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	userID := c.GetInt("userID")

	if err := h.chatRepo.DeleteGroup(c.Request.Context(), groupID, userID); err != nil {
		respondError(c, err)
		return
	}

	if h.notifier != nil {
		h.notifier.MembershipChanged(groupID, "group-deleted", userID, models.Message{})
	}
	h.emitAudit(c, "INFO", "group deleted")
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// AddParticipant adds a user to a group. Admin only.
func (h *GroupHandler) AddParticipant(c *gin.Context) {
	h.membershipChange(c, "added", h.chatRepo.AddParticipant)
}

// RemoveParticipant removes a user from a group. Admin only; the group is
// never left without an admin.
func (h *GroupHandler) RemoveParticipant(c *gin.Context) {
	h.membershipChange(c, "removed", h.chatRepo.RemoveParticipant)
}

// PromoteAdmin grants admin rights to a group member. Promoting an existing
// admin is a no-op and fans nothing out.
func (h *GroupHandler) PromoteAdmin(c *gin.Context) {
	h.membershipChange(c, "promoted", h.chatRepo.PromoteAdmin)
}

type membershipOp func(ctx context.Context, chatID, actorID, targetID int) (models.Message, error)

func (h *GroupHandler) membershipChange(c *gin.Context, action string, op membershipOp) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		ParticipantID int `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id is required"})
		return
	}

	sysMsg, err := op(c.Request.Context(), groupID, userID, req.ParticipantID)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.notifier != nil {
		if sysMsg.ID != 0 {
			h.notifier.MessageSent(groupID, sysMsg)
		}
		h.notifier.MembershipChanged(groupID, action, req.ParticipantID, sysMsg)
	}
	h.emitAudit(c, "INFO", "participant "+action)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
