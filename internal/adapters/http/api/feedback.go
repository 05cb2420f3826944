package api

import (
	"context"
	"net/http"

	"github.com/okian/fleetguard/internal/adapters/repository"
)

// FeedbackDependencies defines the feedback operation.
type FeedbackDependencies interface {
	SubmitFeedback(ctx context.Context, payload map[string]any) (repository.Document, error)
}

// FeedbackHandler handles driver and technician feedback.
type FeedbackHandler struct {
	deps FeedbackDependencies
	responder
}

type feedbackResponse struct {
	Status string `json:"status"`
	ID     any    `json:"id"`
}

// HandleSubmit handles POST /feedback.
func (h *FeedbackHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_feedback"
	payload, err := decodeObject(w, r, op)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.deps.SubmitFeedback(r.Context(), payload)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, feedbackResponse{Status: "ok", ID: doc["id"]})
}
