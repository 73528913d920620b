package models

import "time"

// ChatSettings are the group behavior flags. Direct chats keep the zero value.
type ChatSettings struct {
	OnlyAdminsCanMessage  bool `json:"only_admins_can_message"`
	OnlyAdminsCanEditInfo bool `json:"only_admins_can_edit_info"`
	DisappearingMessages  bool `json:"disappearing_messages"`
}

// Chat is a conversation container: a direct chat between exactly two users,
// or a group with mutable membership.
type Chat struct {
	ID          int          `json:"id"`
	IsGroup     bool         `json:"is_group"`
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	CreatedBy   int          `json:"created_by"`
	Settings    ChatSettings `json:"settings"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Participant is the chat-user membership relation.
type Participant struct {
	UserID   int       `db:"user_id" json:"id"`
	Name     string    `db:"name" json:"name"`
	Avatar   string    `db:"avatar" json:"avatar,omitempty"`
	Status   string    `db:"status" json:"status,omitempty"`
	IsAdmin  bool      `db:"is_admin" json:"is_admin"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// LastMessage is the denormalized preview shown in the chat directory.
type LastMessage struct {
	Content    string    `json:"content"`
	SenderID   int       `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	IsSystem   bool      `json:"is_system,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatSummary is one entry of a user's chat directory, ordered by most
// recent activity. Name and avatar resolve to the other participant for
// direct chats and to the group info for groups.
type ChatSummary struct {
	ChatID       int           `json:"chat_id"`
	Name         string        `json:"name"`
	Avatar       string        `json:"avatar,omitempty"`
	IsGroup      bool          `json:"is_group"`
	UnreadCount  int           `json:"unread_count"`
	LastMessage  *LastMessage  `json:"last_message,omitempty"`
	Participants []Participant `json:"participants"`
	IsOnline     bool          `json:"is_online,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// GroupUpdate carries the mutable group fields for PUT /groups. Nil fields
// are left untouched.
type GroupUpdate struct {
	Name        *string       `json:"name"`
	Description *string       `json:"description"`
	Avatar      *string       `json:"avatar"`
	Settings    *ChatSettings `json:"settings"`
}
