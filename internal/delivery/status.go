// Package delivery implements the message delivery state machine:
// sending -> sent -> delivered -> read, with failed as a terminal state
// reachable only before the message is durably delivered.
package delivery

// Status is the lifecycle stage of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// rank orders the forward path. Failed sits outside the ordering.
func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0 || s == StatusFailed
}

// CanTransition reports whether a message may move from one status to another.
// Forward moves along sending -> sent -> delivered -> read are allowed;
// failed is reachable only from sending or sent.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return from == StatusSending || from == StatusSent
	}
	if from == StatusFailed {
		return false
	}
	return to.rank() > from.rank()
}

// Advance returns the further-along of current and candidate. A message's
// status never moves backward, so stale recomputations are no-ops.
func Advance(current, candidate Status) Status {
	if current == StatusFailed || candidate == StatusFailed {
		return current
	}
	if candidate.rank() > current.rank() {
		return candidate
	}
	return current
}

// Combine derives the aggregate status of a message from its recipients'
// individual states. The policy is all-recipients: the message is delivered
// or read only once every non-sender recipient has reached that state, i.e.
// the minimum state across recipients. A message with no recipients left is
// trivially read.
func Combine(recipients []int, delivered, read map[int]bool) Status {
	if len(recipients) == 0 {
		return StatusRead
	}
	min := StatusRead
	for _, userID := range recipients {
		var state Status
		switch {
		case read[userID]:
			state = StatusRead
		case delivered[userID]:
			state = StatusDelivered
		default:
			state = StatusSent
		}
		if state.rank() < min.rank() {
			min = state
		}
	}
	return min
}
