package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/api/shared"
	"github.com/phrazzld/scry-genpipe/internal/events"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/service"
	"github.com/phrazzld/scry-genpipe/internal/store"
)

// BatchService is the part of *service.BatchService the handlers use.
type BatchService interface {
	CreateBatch(ctx context.Context, name string, requests []generation.Request) (*store.Batch, error)
	ResumeBatch(ctx context.Context, id uuid.UUID) (*store.Batch, error)
	CancelBatch(ctx context.Context, id uuid.UUID) error
	GetStatus(ctx context.Context, id uuid.UUID) (*service.BatchStatus, error)
	GetResult(ctx context.Context, handle string) ([]byte, error)
}

// EventSubscriber hands out per-batch event subscriptions.
// *events.Broker implements it.
type EventSubscriber interface {
	Subscribe(batchID uuid.UUID) (<-chan *events.BatchEvent, func())
}

// BatchHandler handles batch-related HTTP requests.
type BatchHandler struct {
	service   BatchService
	events    EventSubscriber
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(svc BatchService, subscriber EventSubscriber, logger *slog.Logger) *BatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{
		service:   svc,
		events:    subscriber,
		logger:    logger.With("component", "batch_handler"),
		heartbeat: 15 * time.Second,
	}
}

// RegisterRoutes mounts the batch endpoints on r.
func (h *BatchHandler) RegisterRoutes(r chi.Router) {
	r.Post("/batches", h.CreateBatch)
	r.Get("/batches/{id}", h.GetBatch)
	r.Post("/batches/{id}/resume", h.ResumeBatch)
	r.Post("/batches/{id}/cancel", h.CancelBatch)
	r.Get("/batches/{id}/events", h.StreamEvents)
	r.Get("/results/{handle}", h.GetResult)
}

// CreateBatch handles POST /api/batches requests.
func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	b, err := h.service.CreateBatch(r.Context(), req.Name, req.Requests())
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	// 202: the run continues after the response
	shared.RespondWithJSON(w, r, http.StatusAccepted, BatchAcceptedResponse{BatchID: b.ID, Total: b.Total})
}

// ResumeBatch handles POST /api/batches/{id}/resume requests.
func (h *BatchHandler) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	b, err := h.service.ResumeBatch(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, BatchAcceptedResponse{BatchID: b.ID, Total: b.Total})
}

// CancelBatch handles POST /api/batches/{id}/cancel requests.
func (h *BatchHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.CancelBatch(r.Context(), id); err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// GetBatch handles GET /api/batches/{id} requests.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	status, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// GetResult handles GET /api/results/{handle} requests.
func (h *BatchHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if _, err := uuid.Parse(handle); err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: handle", ErrInvalidID))
		return
	}

	content, err := h.service.GetResult(r.Context(), handle)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write result", "error", err)
	}
}

// pathUUID extracts a UUID path parameter, writing a 400 when it is invalid.
func (h *BatchHandler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		HandleAPIError(w, r, fmt.Errorf("%w: %s", ErrInvalidID, name))
		return uuid.Nil, false
	}
	return id, true
}
