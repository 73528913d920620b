package ws

import (
	"context"
	"log"
	"time"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
)

// Notifier is the bridge between the ledger and the hub: it fans out ledger
// changes to subscribed sessions and infers delivery for recipients whose
// sessions were live but never acked within the grace period.
type Notifier struct {
	hub      *Hub
	messages repositories.MessageRepository
	grace    time.Duration
}

// NewNotifier constructs a Notifier.
func NewNotifier(hub *Hub, messages repositories.MessageRepository, grace time.Duration) *Notifier {
	if grace <= 0 {
		grace = 1500 * time.Millisecond
	}
	return &Notifier{hub: hub, messages: messages, grace: grace}
}

// MessageSent broadcasts a freshly appended message and schedules delivery
// inference for recipients with an active session right now. An explicit ack
// arriving earlier makes the inference a no-op.
func (n *Notifier) MessageSent(chatID int, msg models.Message) {
	n.hub.Publish(chatID, models.ChatEvent{Type: models.EventNewMessage, ChatID: chatID, Message: &msg})
	observability.IncMessageFanout()

	recipients := make([]int, 0)
	for _, userID := range n.hub.ActiveUsers(chatID) {
		if userID != msg.SenderID {
			recipients = append(recipients, userID)
		}
	}
	if len(recipients) == 0 {
		return
	}

	time.AfterFunc(n.grace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, userID := range recipients {
			changes, err := n.messages.MarkDelivered(ctx, chatID, userID, msg.ID)
			if err != nil {
				log.Printf("delivery inference failed chat=%d message=%d user=%d: %v", chatID, msg.ID, userID, err)
				continue
			}
			n.StatusChanged(chatID, changes)
		}
	})
}

// StatusChanged broadcasts advanced message statuses, if any.
func (n *Notifier) StatusChanged(chatID int, changes []models.StatusChange) {
	if len(changes) == 0 {
		return
	}
	for _, change := range changes {
		observability.IncStatusTransition(string(change.Status))
	}
	n.hub.Publish(chatID, models.ChatEvent{Type: models.EventStatusUpdate, ChatID: chatID, Statuses: changes})
}

// MembershipChanged broadcasts a membership mutation together with its system
// message, when one was recorded.
func (n *Notifier) MembershipChanged(chatID int, action string, userID int, sysMsg models.Message) {
	event := models.ChatEvent{Type: models.EventMembershipChanged, ChatID: chatID, Action: action, UserID: userID}
	if sysMsg.ID != 0 {
		event.Message = &sysMsg
	}
	n.hub.Publish(chatID, event)
}
