package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evicertia/pn-ec/internal/model"
)

// Message is the envelope carried on the channel send and error queues. It
// holds the full take-in-charge payload so workers never need the admission
// context to act on it.
type Message struct {
	ID      string         `json:"id"`
	Request *model.Request `json:"request"`

	// PendingEvent is set only on the status-only error-queue fallback: the
	// gateway call succeeded but the tracker publish did not, so a later
	// pass must emit this event without resending.
	PendingEvent *model.StatusEvent `json:"pendingEvent,omitempty"`

	// StatusBeforeRetry is the request's logical status when it was routed
	// to the error queue, carried as the currentStatus of later events.
	StatusBeforeRetry model.Status `json:"statusBeforeRetry,omitempty"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewMessage wraps a request in a fresh envelope.
func NewMessage(req *model.Request) *Message {
	return &Message{
		ID:         uuid.New().String(),
		Request:    req,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Encode serializes the envelope for the wire.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal queue message: %w", err)
	}
	return data, nil
}

// Decode deserializes an envelope from the wire.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal queue message: %w", err)
	}
	return &m, nil
}
