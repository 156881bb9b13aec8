package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// TypeItemTransition is emitted for every item status change.
	TypeItemTransition = "item_transition"

	// TypeProgress is emitted after each item reaches Done or Error.
	TypeProgress = "progress"

	// TypeSnapshot carries a partial result whose field set just grew.
	TypeSnapshot = "snapshot"

	// TypeRunFinished is emitted once when a run ends, cancelled or not.
	TypeRunFinished = "run_finished"
)

// BatchEvent describes something that happened in a batch run.
type BatchEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// BatchID is the batch the event belongs to
	BatchID uuid.UUID `json:"batch_id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *BatchEvent) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewBatchEvent creates a BatchEvent with the given type and payload.
func NewBatchEvent(batchID uuid.UUID, eventType string, payload any) (*BatchEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &BatchEvent{
		ID:        uuid.New(),
		BatchID:   batchID,
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SnapshotPayload is the payload of a TypeSnapshot event.
type SnapshotPayload struct {
	Index      int             `json:"index"`
	FieldNames []string        `json:"field_names"`
	Partial    json.RawMessage `json:"partial"`
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *BatchEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *BatchEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *BatchEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *BatchEvent) error
}
