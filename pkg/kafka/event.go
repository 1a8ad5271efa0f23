package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/catalogsync/pkg/logger"
)

// SchemaVersion is stamped on every envelope. Bump it when a payload changes
// incompatibly.
const SchemaVersion = 1

// Aggregate names the entity an event is about. Its ID is the partition key.
type Aggregate struct {
	ID   string
	Type string
}

// Event is the envelope every published message is wrapped in.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent wraps data for agg. The correlation id of the request that caused
// the event is taken from ctx.
func NewEvent[T any](ctx context.Context, eventType string, agg Aggregate, source string, data T) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	return &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   agg.ID,
		AggregateType: agg.Type,
		Version:       SchemaVersion,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		Data:          raw,
	}, nil
}

// WithMetadata adds a key-value pair to the event metadata.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Marshal serializes the event to JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a message value into its envelope and typed payload.
func Decode[T any](value []byte) (*Event, T, error) {
	var payload T
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, payload, fmt.Errorf("decode event envelope: %w", err)
	}
	if event.Version > SchemaVersion {
		return &event, payload, fmt.Errorf("event %s has schema version %d, newest known is %d",
			event.EventID, event.Version, SchemaVersion)
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return &event, payload, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &event, payload, nil
}

// TopicPrefix namespaces every topic this module publishes to.
const TopicPrefix = "catalogsync"

// Topic builds "<prefix>.<domain>.<action>".
func Topic(domain, action string) string {
	return TopicPrefix + "." + domain + "." + action
}
