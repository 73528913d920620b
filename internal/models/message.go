package models

import (
	"time"

	"messenger-service/internal/delivery"
)

// Message is one entry of a chat's append-only ledger. Content and sender are
// immutable after creation; only status and the read set advance.
type Message struct {
	ID          int             `db:"id" json:"id"`
	ChatID      int             `db:"chat_id" json:"chat_id"`
	SenderID    int             `db:"sender_id" json:"sender_id"`
	SenderName  string          `db:"sender_name" json:"sender_name,omitempty"`
	Content     string          `db:"content" json:"content"`
	Status      delivery.Status `db:"status" json:"status"`
	IsSystem    bool            `db:"is_system" json:"is_system,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	Attachments []Attachment    `db:"-" json:"attachments,omitempty"`
}

// Attachment is an immutable descriptor of externally stored binary content.
type Attachment struct {
	ID        int    `db:"id" json:"id"`
	MessageID int    `db:"message_id" json:"-"`
	Name      string `db:"name" json:"name"`
	MimeType  string `db:"mime_type" json:"type"`
	Size      int64  `db:"byte_size" json:"size"`
	URL       string `db:"url" json:"url"`
}

// StatusChange records a message status advancing after a read or delivery
// acknowledgment, for fan-out to subscribed sessions.
type StatusChange struct {
	MessageID int             `json:"message_id"`
	Status    delivery.Status `json:"status"`
}

// Websocket event types, matching the logical channel events of the client.
const (
	EventNewMessage        = "new-message"
	EventStatusUpdate      = "message-status-update"
	EventUserTyping        = "user-typing"
	EventMembershipChanged = "membership-changed"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
)

// ChatEvent is the envelope broadcast over a chat's websocket room.
type ChatEvent struct {
	Type     string         `json:"type"`
	ChatID   int            `json:"chat_id"`
	Message  *Message       `json:"message,omitempty"`
	Statuses []StatusChange `json:"statuses,omitempty"`
	UserID   int            `json:"user_id,omitempty"`
	Username string         `json:"username,omitempty"`
	IsTyping bool           `json:"is_typing,omitempty"`
	Action   string         `json:"action,omitempty"`
}
