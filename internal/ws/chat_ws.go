package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

// ChatWebSocketHandler upgrades chat websocket connections and runs each
// session's read loop.
type ChatWebSocketHandler struct {
	hub       *Hub
	notifier  *Notifier
	chatRepo  repositories.ChatRepository
	messages  repositories.MessageRepository
	jwtSecret string
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, notifier *Notifier, chatRepo repositories.ChatRepository, messages repositories.MessageRepository, jwtSecret string) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{
		hub:       hub,
		notifier:  notifier,
		chatRepo:  chatRepo,
		messages:  messages,
		jwtSecret: jwtSecret,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is what a connected session may send upstream.
type clientFrame struct {
	Type      string `json:"type"` // send-message, ack, read, typing, leave-chat
	Content   string `json:"content,omitempty"`
	MessageID int    `json:"message_id,omitempty"`
	UpToID    int    `json:"up_to_id,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
}

// Handle authorizes and registers a session, then serves its frames until
// the connection closes.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake",
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(attribute.Int("chat.id", chatID)))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token != "" {
		const prefix = "Bearer "
		if len(token) > len(prefix) {
			token = token[len(prefix):]
		}
	} else {
		token = c.Query("token")
	}

	claims, err := middleware.ParseToken(h.jwtSecret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.chatRepo.IsParticipant(ctx, chatID, claims.UserID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for chat"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		SessionID:   newSessionID(),
		UserID:      claims.UserID,
		Username:    claims.Username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Subscribe(chatID, conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycleEvent(ctx, chatID, info, "ws_connect", "")

	go h.readLoop(chatID, conn, info)
}

func (h *ChatWebSocketHandler) readLoop(chatID int, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Unsubscribe(chatID, conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycleEvent(context.Background(), chatID, info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycleEvent(context.Background(), chatID, info, "ws_error", closeReason)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Printf("invalid client frame from user %d: %v", info.UserID, err)
			continue
		}
		if frame.Type == "leave-chat" {
			closeReason = "leave-chat"
			return
		}
		h.handleFrame(chatID, info, frame)
	}
}

func (h *ChatWebSocketHandler) handleFrame(chatID int, info ConnInfo, frame clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch frame.Type {
	case "send-message":
		msg, err := h.messages.AppendMessage(ctx, chatID, info.UserID, frame.Content, nil)
		if err != nil {
			log.Printf("ws send failed chat=%d user=%d: %v", chatID, info.UserID, err)
			return
		}
		observability.IncMessage("user")
		h.notifier.MessageSent(chatID, msg)
	case "ack":
		changes, err := h.messages.MarkDelivered(ctx, chatID, info.UserID, frame.MessageID)
		if err != nil {
			log.Printf("ws ack failed chat=%d user=%d message=%d: %v", chatID, info.UserID, frame.MessageID, err)
			return
		}
		h.notifier.StatusChanged(chatID, changes)
	case "read":
		changes, err := h.messages.MarkRead(ctx, chatID, info.UserID, frame.UpToID)
		if err != nil {
			log.Printf("ws read failed chat=%d user=%d: %v", chatID, info.UserID, err)
			return
		}
		h.notifier.StatusChanged(chatID, changes)
	case "typing":
		h.hub.Typing(chatID, info.UserID, info.Username, frame.IsTyping)
	default:
		log.Printf("unknown frame type %q from user %d", frame.Type, info.UserID)
	}
}

func (h *ChatWebSocketHandler) publishLifecycleEvent(ctx context.Context, chatID int, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.chats", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"chat_id":     chatID,
				"event":       event,
				"session_id":  info.SessionID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
