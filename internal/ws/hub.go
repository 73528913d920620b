package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

// Hub maintains the per-chat websocket rooms, presence counts and typing
// state. Publishes to one room are serialized, so every subscribed session
// observes events in publish order; no ordering holds across rooms.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[int]*room
	online    map[int]int
	typing    map[int]map[int]*time.Timer
	typingTTL time.Duration
}

type room struct {
	mu       sync.Mutex
	sessions map[*websocket.Conn]ConnInfo
}

// NewHub creates an empty hub. typingTTL bounds how long a typing signal
// survives without a refresh.
func NewHub(typingTTL time.Duration) *Hub {
	if typingTTL <= 0 {
		typingTTL = time.Second
	}
	return &Hub{
		rooms:     make(map[int]*room),
		online:    make(map[int]int),
		typing:    make(map[int]map[int]*time.Timer),
		typingTTL: typingTTL,
	}
}

// Subscribe registers a session with a chat room. The user's first session
// anywhere announces them online to that room.
func (h *Hub) Subscribe(chatID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	rm, ok := h.rooms[chatID]
	if !ok {
		rm = &room{sessions: make(map[*websocket.Conn]ConnInfo)}
		h.rooms[chatID] = rm
	}
	h.online[info.UserID]++
	firstSession := h.online[info.UserID] == 1
	h.mu.Unlock()

	rm.mu.Lock()
	rm.sessions[conn] = info
	rm.mu.Unlock()

	if firstSession {
		h.Publish(chatID, models.ChatEvent{Type: models.EventUserOnline, ChatID: chatID, UserID: info.UserID, Username: info.Username})
	}
}

// Unsubscribe removes a session. The user's last session going away
// announces them offline to the room they left.
func (h *Hub) Unsubscribe(chatID int, conn *websocket.Conn) {
	h.mu.Lock()
	rm, ok := h.rooms[chatID]
	h.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	info, present := rm.sessions[conn]
	delete(rm.sessions, conn)
	empty := len(rm.sessions) == 0
	rm.mu.Unlock()

	if !present {
		return
	}

	h.mu.Lock()
	if h.online[info.UserID] > 0 {
		h.online[info.UserID]--
	}
	lastSession := h.online[info.UserID] == 0
	if lastSession {
		delete(h.online, info.UserID)
	}
	if empty {
		if current, ok := h.rooms[chatID]; ok && current == rm {
			delete(h.rooms, chatID)
		}
	}
	h.mu.Unlock()

	if lastSession && !empty {
		h.Publish(chatID, models.ChatEvent{Type: models.EventUserOffline, ChatID: chatID, UserID: info.UserID, Username: info.Username})
	}
}

// Publish fans an event out to every session of the chat, best effort.
// Failed connections are closed and dropped; the error never reaches the
// operation that triggered the event.
func (h *Hub) Publish(chatID int, event models.ChatEvent) {
	h.mu.RLock()
	rm, ok := h.rooms[chatID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}

	rm.mu.Lock()
	var failed []*websocket.Conn
	for conn := range rm.sessions {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			failed = append(failed, conn)
			h.publishSessionError(chatID, rm.sessions[conn], err)
		}
	}
	for _, conn := range failed {
		delete(rm.sessions, conn)
	}
	rm.mu.Unlock()

	observability.IncWSEvent(event.Type)
}

// ActiveUsers returns the ids of users with at least one session in the chat.
func (h *Hub) ActiveUsers(chatID int) []int {
	h.mu.RLock()
	rm, ok := h.rooms[chatID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	seen := map[int]struct{}{}
	var users []int
	for _, info := range rm.sessions {
		if _, ok := seen[info.UserID]; ok {
			continue
		}
		seen[info.UserID] = struct{}{}
		users = append(users, info.UserID)
	}
	return users
}

// IsUserOnline reports whether the user has any live session.
func (h *Hub) IsUserOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// OnlineUserIDs lists users with at least one live session.
func (h *Hub) OnlineUserIDs() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int, 0, len(h.online))
	for id, n := range h.online {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// Typing relays an ephemeral typing signal. Last writer per (chat, user)
// wins, and the signal expires on its own when no refresh arrives within
// the TTL. Nothing is persisted or retried.
func (h *Hub) Typing(chatID, userID int, username string, isTyping bool) {
	h.mu.Lock()
	byUser, ok := h.typing[chatID]
	if !ok {
		byUser = make(map[int]*time.Timer)
		h.typing[chatID] = byUser
	}
	if timer, ok := byUser[userID]; ok {
		timer.Stop()
		delete(byUser, userID)
	}
	if isTyping {
		byUser[userID] = time.AfterFunc(h.typingTTL, func() {
			h.expireTyping(chatID, userID, username)
		})
	}
	h.mu.Unlock()

	h.Publish(chatID, models.ChatEvent{
		Type:     models.EventUserTyping,
		ChatID:   chatID,
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
	})
}

func (h *Hub) expireTyping(chatID, userID int, username string) {
	h.mu.Lock()
	if byUser, ok := h.typing[chatID]; ok {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(h.typing, chatID)
		}
	}
	h.mu.Unlock()

	h.Publish(chatID, models.ChatEvent{
		Type:     models.EventUserTyping,
		ChatID:   chatID,
		UserID:   userID,
		Username: username,
		IsTyping: false,
	})
}

func (h *Hub) publishSessionError(chatID int, info ConnInfo, err error) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"chat_id":     chatID,
			"event":       "ws_error",
			"session_id":  info.SessionID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.chats", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
