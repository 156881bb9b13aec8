package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/generation"
)

// Batch is a persisted batch header.
type Batch struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Total     int       `json:"total"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBatch creates a batch header for total items with a fresh ID.
func NewBatch(name string, total int) *Batch {
	now := time.Now().UTC()
	return &Batch{
		ID:        uuid.New(),
		Name:      name,
		Total:     total,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the header against the requests it will be stored with.
func (b *Batch) Validate(requests []generation.Request) error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("%w: batch ID cannot be empty", ErrInvalidEntity)
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: batch name cannot be empty", ErrInvalidEntity)
	}
	if b.Total != len(requests) || b.Total == 0 {
		return fmt.Errorf("%w: batch total %d does not match %d requests", ErrInvalidEntity, b.Total, len(requests))
	}
	return nil
}

// ItemRecord is a persisted item: its request and its latest state.
type ItemRecord struct {
	batch.Item
	Request generation.Request `json:"request"`
}

// Items extracts the item states from records.
func Items(records []ItemRecord) []batch.Item {
	out := make([]batch.Item, len(records))
	for i, r := range records {
		out[i] = r.Item
	}
	return out
}

// Requests extracts the requests from records, in index order.
func Requests(records []ItemRecord) []generation.Request {
	out := make([]generation.Request, len(records))
	for i, r := range records {
		out[i] = r.Request
	}
	return out
}

// BatchStore persists batches, per-item state and generated results.
type BatchStore interface {
	// CreateBatch stores the header and one idle item per request.
	CreateBatch(ctx context.Context, b *Batch, requests []generation.Request) error

	// GetBatch returns ErrBatchNotFound when id is unknown.
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)

	// ListItems returns the items of a batch ordered by index.
	ListItems(ctx context.Context, batchID uuid.UUID) ([]ItemRecord, error)

	// UpdateItem records the state of one item. It returns ErrItemNotFound
	// when the item does not exist.
	UpdateItem(ctx context.Context, batchID uuid.UUID, item batch.Item) error

	// SaveResult stores the final JSON for an item and returns its handle.
	SaveResult(ctx context.Context, batchID uuid.UUID, index int, content json.RawMessage) (string, error)

	// GetResult returns ErrResultNotFound when handle is unknown.
	GetResult(ctx context.Context, handle string) (json.RawMessage, error)

	// ResetInterrupted returns items left Generating by a stopped process
	// to Idle and reports how many were reset.
	ResetInterrupted(ctx context.Context) (int64, error)
}
