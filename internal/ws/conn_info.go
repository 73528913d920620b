package ws

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo identifies one subscribed session.
type ConnInfo struct {
	SessionID   string
	UserID      int
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newSessionID() string {
	return uuid.NewString()
}
