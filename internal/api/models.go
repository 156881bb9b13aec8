package api

import (
	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/generation"
)

// CreateBatchRequest is the body of POST /api/batches.
type CreateBatchRequest struct {
	Name  string             `json:"name" validate:"required,max=200"`
	Items []BatchItemRequest `json:"items" validate:"required,min=1,dive"`
}

// BatchItemRequest is one item of a CreateBatchRequest.
type BatchItemRequest struct {
	Title  string `json:"title" validate:"max=200"`
	Prompt string `json:"prompt" validate:"required"`
}

// Requests converts the items to generation requests.
func (r CreateBatchRequest) Requests() []generation.Request {
	out := make([]generation.Request, len(r.Items))
	for i, it := range r.Items {
		out[i] = generation.Request{Title: it.Title, Prompt: it.Prompt}
	}
	return out
}

// BatchAcceptedResponse is returned when a run is started.
type BatchAcceptedResponse struct {
	BatchID uuid.UUID `json:"batch_id"`
	Total   int       `json:"total"`
}
