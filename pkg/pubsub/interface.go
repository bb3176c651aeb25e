package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// subscriptionBuffer is the per-subscription queue; events beyond it are dropped.
const subscriptionBuffer = 100

// Event represents a message published to the event bus.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	SessionID string          `json:"session_id,omitempty"`
	Source    string          `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventOption decorates an event built by NewEvent.
type EventOption func(*Event)

// ForSession tags the event with the studio session it belongs to.
func ForSession(sessionID string) EventOption {
	return func(e *Event) { e.SessionID = sessionID }
}

// FromSource records which service emitted the event.
func FromSource(source string) EventOption {
	return func(e *Event) { e.Source = source }
}

// At overrides the event timestamp.
func At(t time.Time) EventOption {
	return func(e *Event) {
		if !t.IsZero() {
			e.Timestamp = t
		}
	}
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType, roomID string, payload any, opts ...EventOption) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	e := &Event{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus. The returned channel is
// closed when ctx ends, on Unsubscribe, or when the bus closes.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
