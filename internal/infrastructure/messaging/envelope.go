package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/progression-engine/internal/domain/shared"
)

// Envelope is the wire form of a notification delivered to clients.
type Envelope struct {
	UserID     string                 `json:"user_id"`
	Type       shared.EventType       `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewEnvelope wraps an event. Times are normalized to UTC.
func NewEnvelope(event shared.Event) Envelope {
	return Envelope{
		UserID:     event.AggregateID(),
		Type:       event.EventType(),
		Payload:    event.Payload(),
		OccurredAt: event.OccurredAt().UTC(),
	}
}

// Encode serializes the envelope to JSON.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", e.Type, err)
	}
	return data, nil
}

// DecodeEnvelope parses an envelope produced by Encode.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if e.UserID == "" || e.Type == "" {
		return Envelope{}, fmt.Errorf("failed to decode envelope: missing user_id or type")
	}
	return e, nil
}
