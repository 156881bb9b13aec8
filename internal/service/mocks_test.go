package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/events"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/store"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory store.BatchStore.
type memStore struct {
	mu      sync.Mutex
	batches map[uuid.UUID]store.Batch
	items   map[uuid.UUID][]store.ItemRecord
	results map[string]json.RawMessage

	createErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		batches: make(map[uuid.UUID]store.Batch),
		items:   make(map[uuid.UUID][]store.ItemRecord),
		results: make(map[string]json.RawMessage),
	}
}

func (m *memStore) CreateBatch(_ context.Context, b *store.Batch, requests []generation.Request) error {
	if m.createErr != nil {
		return m.createErr
	}
	if err := b.Validate(requests); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]store.ItemRecord, len(requests))
	for i, r := range requests {
		records[i] = store.ItemRecord{
			Item:    batch.Item{Index: i, Status: batch.StatusIdle},
			Request: r,
		}
	}
	m.batches[b.ID] = *b
	m.items[b.ID] = records
	return nil
}

func (m *memStore) GetBatch(_ context.Context, id uuid.UUID) (*store.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, store.ErrBatchNotFound
	}
	return &b, nil
}

func (m *memStore) ListItems(_ context.Context, batchID uuid.UUID) ([]store.ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.ItemRecord, len(m.items[batchID]))
	copy(out, m.items[batchID])
	return out, nil
}

func (m *memStore) UpdateItem(_ context.Context, batchID uuid.UUID, item batch.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	records := m.items[batchID]
	if item.Index < 0 || item.Index >= len(records) {
		return store.ErrItemNotFound
	}
	records[item.Index].Item = item
	return nil
}

func (m *memStore) SaveResult(_ context.Context, _ uuid.UUID, _ int, content json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle := uuid.NewString()
	m.results[handle] = append(json.RawMessage(nil), content...)
	return handle, nil
}

func (m *memStore) GetResult(_ context.Context, handle string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.results[handle]
	if !ok {
		return nil, store.ErrResultNotFound
	}
	return content, nil
}

func (m *memStore) ResetInterrupted(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, records := range m.items {
		for i := range records {
			if records[i].Status == batch.StatusGenerating {
				records[i].Status = batch.StatusIdle
				n++
			}
		}
	}
	return n, nil
}

func (m *memStore) statuses(id uuid.UUID) []batch.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]batch.Status, len(m.items[id]))
	for i, r := range m.items[id] {
		out[i] = r.Status
	}
	return out
}

// recorder collects emitted events and signals finished runs.
type recorder struct {
	mu       sync.Mutex
	events   []*events.BatchEvent
	finished chan batch.Summary
}

func newRecorder() *recorder {
	return &recorder{finished: make(chan batch.Summary, 16)}
}

func (r *recorder) HandleEvent(_ context.Context, e *events.BatchEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()

	if e.Type == events.TypeRunFinished {
		var s batch.Summary
		if err := e.UnmarshalPayload(&s); err != nil {
			return err
		}
		r.finished <- s
	}
	return nil
}

func (r *recorder) ofType(eventType string) []*events.BatchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.BatchEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) wait(t *testing.T) batch.Summary {
	t.Helper()
	select {
	case s := <-r.finished:
		return s
	case <-time.After(5 * time.Second):
		require.FailNow(t, "batch run did not finish")
		return batch.Summary{}
	}
}
