package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/api/shared"
	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/events"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/service"
	"github.com/phrazzld/scry-genpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBatchService implements BatchService with overridable functions.
type mockBatchService struct {
	CreateBatchFn func(ctx context.Context, name string, requests []generation.Request) (*store.Batch, error)
	ResumeBatchFn func(ctx context.Context, id uuid.UUID) (*store.Batch, error)
	CancelBatchFn func(ctx context.Context, id uuid.UUID) error
	GetStatusFn   func(ctx context.Context, id uuid.UUID) (*service.BatchStatus, error)
	GetResultFn   func(ctx context.Context, handle string) ([]byte, error)
}

func (m *mockBatchService) CreateBatch(ctx context.Context, name string, requests []generation.Request) (*store.Batch, error) {
	return m.CreateBatchFn(ctx, name, requests)
}

func (m *mockBatchService) ResumeBatch(ctx context.Context, id uuid.UUID) (*store.Batch, error) {
	return m.ResumeBatchFn(ctx, id)
}

func (m *mockBatchService) CancelBatch(ctx context.Context, id uuid.UUID) error {
	return m.CancelBatchFn(ctx, id)
}

func (m *mockBatchService) GetStatus(ctx context.Context, id uuid.UUID) (*service.BatchStatus, error) {
	return m.GetStatusFn(ctx, id)
}

func (m *mockBatchService) GetResult(ctx context.Context, handle string) ([]byte, error) {
	return m.GetResultFn(ctx, handle)
}

func newTestRouter(svc BatchService, broker *events.Broker) http.Handler {
	h := NewBatchHandler(svc, broker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.heartbeat = 10 * time.Millisecond
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateBatch(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotRequests []generation.Request
	id := uuid.New()
	svc := &mockBatchService{
		CreateBatchFn: func(_ context.Context, name string, requests []generation.Request) (*store.Batch, error) {
			gotName, gotRequests = name, requests
			return &store.Batch{ID: id, Name: name, Total: len(requests)}, nil
		},
	}
	router := newTestRouter(svc, events.NewBroker(4))

	rec := doRequest(t, router, http.MethodPost, "/api/batches",
		`{"name":"moons","items":[{"title":"Io","prompt":"volcanoes"},{"prompt":"ice"}]}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp BatchAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.BatchID)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "moons", gotName)
	assert.Equal(t, []generation.Request{{Title: "Io", Prompt: "volcanoes"}, {Prompt: "ice"}}, gotRequests)
}

func TestCreateBatch_BadRequests(t *testing.T) {
	t.Parallel()

	svc := &mockBatchService{
		CreateBatchFn: func(context.Context, string, []generation.Request) (*store.Batch, error) {
			return nil, fmt.Errorf("%w: 3 items exceeds the limit of 2", service.ErrInvalidBatch)
		},
	}
	router := newTestRouter(svc, events.NewBroker(4))

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"malformed json", `{"name":`, "Invalid request format"},
		{"unknown field", `{"name":"x","items":[{"prompt":"p"}],"extra":1}`, "Invalid request format"},
		{"missing name", `{"items":[{"prompt":"p"}]}`, "Invalid CreateBatchRequest.Name: required field"},
		{"no items", `{"name":"x","items":[]}`, "Invalid CreateBatchRequest.Items: too short"},
		{"empty prompt", `{"name":"x","items":[{"title":"t","prompt":""}]}`, "Invalid CreateBatchRequest.Items[0].Prompt: required field"},
		{"service rejects", `{"name":"x","items":[{"prompt":"a"},{"prompt":"b"},{"prompt":"c"}]}`, "Invalid batch: 3 items exceeds the limit of 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := doRequest(t, router, http.MethodPost, "/api/batches", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec).Error)
		})
	}
}

func TestResumeAndCancel_StatusCodes(t *testing.T) {
	t.Parallel()

	running := uuid.New()
	idle := uuid.New()
	svc := &mockBatchService{
		ResumeBatchFn: func(_ context.Context, id uuid.UUID) (*store.Batch, error) {
			switch id {
			case running:
				return nil, service.ErrBatchRunning
			case idle:
				return &store.Batch{ID: id, Total: 3}, nil
			}
			return nil, service.ErrBatchNotFound
		},
		CancelBatchFn: func(_ context.Context, id uuid.UUID) error {
			if id == running {
				return nil
			}
			return service.ErrBatchNotRunning
		},
	}
	router := newTestRouter(svc, events.NewBroker(4))

	tests := []struct {
		path string
		code int
	}{
		{"/api/batches/" + idle.String() + "/resume", http.StatusAccepted},
		{"/api/batches/" + running.String() + "/resume", http.StatusConflict},
		{"/api/batches/" + uuid.NewString() + "/resume", http.StatusNotFound},
		{"/api/batches/not-a-uuid/resume", http.StatusBadRequest},
		{"/api/batches/" + running.String() + "/cancel", http.StatusAccepted},
		{"/api/batches/" + idle.String() + "/cancel", http.StatusNotFound},
	}

	for _, tt := range tests {
		rec := doRequest(t, router, http.MethodPost, tt.path, "")
		assert.Equal(t, tt.code, rec.Code, tt.path)
	}
}

func TestGetBatch(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	svc := &mockBatchService{
		GetStatusFn: func(_ context.Context, got uuid.UUID) (*service.BatchStatus, error) {
			if got != id {
				return nil, service.ErrBatchNotFound
			}
			return &service.BatchStatus{
				Batch: &store.Batch{ID: id, Name: "b", Total: 2},
				Items: []store.ItemRecord{
					{Item: batch.Item{Index: 0, Status: batch.StatusDone, ResultHandle: "h"}},
					{Item: batch.Item{Index: 1, Status: batch.StatusIdle}},
				},
				Done: 1, Pending: 1, Total: 2,
			}, nil
		},
	}
	router := newTestRouter(svc, events.NewBroker(4))

	rec := doRequest(t, router, http.MethodGet, "/api/batches/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status service.BatchStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Done)
	assert.Equal(t, batch.StatusIdle, status.Items[1].Status)

	rec = doRequest(t, router, http.MethodGet, "/api/batches/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Batch not found", decodeError(t, rec).Error)
}

func TestGetResult(t *testing.T) {
	t.Parallel()

	handle := uuid.NewString()
	svc := &mockBatchService{
		GetResultFn: func(_ context.Context, h string) ([]byte, error) {
			if h == handle {
				return []byte(`{"title":"Io"}`), nil
			}
			return nil, service.ErrResultNotFound
		},
	}
	router := newTestRouter(svc, events.NewBroker(4))

	rec := doRequest(t, router, http.MethodGet, "/api/results/"+handle, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"title":"Io"}`, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/api/results/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/results/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	t.Parallel()

	svc := &mockBatchService{
		GetStatusFn: func(context.Context, uuid.UUID) (*service.BatchStatus, error) {
			return nil, errors.New("dial postgres://genpipe:secret@db failed")
		},
	}
	router := newTestRouter(svc, events.NewBroker(4))

	rec := doRequest(t, router, http.MethodGet, "/api/batches/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An unexpected error occurred", decodeError(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), "secret")
}

type sseEvent struct {
	id    string
	event string
	data  string
}

func readEvents(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.event != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestStreamEvents_ForwardsUntilRunFinished(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	broker := events.NewBroker(16)
	svc := &mockBatchService{
		GetStatusFn: func(context.Context, uuid.UUID) (*service.BatchStatus, error) {
			return &service.BatchStatus{Batch: &store.Batch{ID: id}, Running: true, Total: 1, Pending: 1}, nil
		},
	}
	server := httptest.NewServer(newTestRouter(svc, broker))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/batches/" + id.String() + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return broker.Subscribers(id) == 1 }, 2*time.Second, 5*time.Millisecond)

	progress, err := events.NewBatchEvent(id, events.TypeProgress, batch.Progress{Index: 0, Done: 1, Total: 1})
	require.NoError(t, err)
	finished, err := events.NewBatchEvent(id, events.TypeRunFinished, batch.Summary{Done: 1, Total: 1})
	require.NoError(t, err)
	require.NoError(t, broker.HandleEvent(context.Background(), progress))
	require.NoError(t, broker.HandleEvent(context.Background(), finished))

	got := readEvents(t, resp.Body)
	require.Len(t, got, 3)
	assert.Equal(t, StatusEventType, got[0].event)
	assert.Equal(t, events.TypeProgress, got[1].event)
	assert.Equal(t, progress.ID.String(), got[1].id)
	assert.Equal(t, events.TypeRunFinished, got[2].event)

	var decoded events.BatchEvent
	require.NoError(t, json.Unmarshal([]byte(got[1].data), &decoded))
	var p batch.Progress
	require.NoError(t, decoded.UnmarshalPayload(&p))
	assert.Equal(t, 1, p.Done)
}

func TestStreamEvents_IdleBatchEndsAfterStatus(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	broker := events.NewBroker(4)
	svc := &mockBatchService{
		GetStatusFn: func(context.Context, uuid.UUID) (*service.BatchStatus, error) {
			return &service.BatchStatus{Batch: &store.Batch{ID: id}, Done: 2, Total: 2}, nil
		},
	}

	rec := doRequest(t, newTestRouter(svc, broker), http.MethodGet, "/api/batches/"+id.String()+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := readEvents(t, rec.Body)
	require.Len(t, got, 1)
	assert.Equal(t, StatusEventType, got[0].event)
	assert.Zero(t, broker.Subscribers(id))
}

func TestStreamEvents_UnknownBatch(t *testing.T) {
	t.Parallel()

	svc := &mockBatchService{
		GetStatusFn: func(context.Context, uuid.UUID) (*service.BatchStatus, error) {
			return nil, service.ErrBatchNotFound
		},
	}
	rec := doRequest(t, newTestRouter(svc, events.NewBroker(4)), http.MethodGet, "/api/batches/"+uuid.NewString()+"/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
