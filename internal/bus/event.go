package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is one published occurrence. ID is unique per event and lets
// remote watchers detect redelivery.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps payload with a fresh id and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
