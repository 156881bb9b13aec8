package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/phrazzld/scry-genpipe/internal/api/shared"
	"github.com/phrazzld/scry-genpipe/internal/events"
)

// StatusEventType is the type of the first event of every stream; its data
// is the batch status at subscription time.
const StatusEventType = "status"

// StreamEvents handles GET /api/batches/{id}/events. It writes the current
// status, then every event of the active run until the run finishes or the
// client disconnects. Streams for idle batches end after the status event.
func (h *BatchHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	// subscribe first so nothing between the status read and the stream is lost
	ch, unsubscribe := h.events.Subscribe(id)
	defer unsubscribe()

	status, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	data, err := json.Marshal(status)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to encode status", "error", err)
		return
	}
	if err := writeEvent(w, "", StatusEventType, data); err != nil {
		return
	}
	flusher.Flush()
	if !status.Running {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.ErrorContext(r.Context(), "failed to encode event", "error", err, "event_type", event.Type)
				continue
			}
			if err := writeEvent(w, event.ID.String(), event.Type, data); err != nil {
				h.logger.DebugContext(r.Context(), "event stream closed", "error", err)
				return
			}
			flusher.Flush()
			if event.Type == events.TypeRunFinished {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, id, eventType string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
