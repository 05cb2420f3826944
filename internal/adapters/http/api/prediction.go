package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/fleetguard/internal/adapters/ingest"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/internal/domain/pipeline"
)

// PredictionDependencies defines the prediction operations.
type PredictionDependencies interface {
	Predict(ctx context.Context, raw map[string]any) (*pipeline.Result, error)
	LatestPrediction(ctx context.Context, vehicleID string) (*model.Prediction, error)
}

// PredictionHandler handles prediction requests.
type PredictionHandler struct {
	deps PredictionDependencies
	responder
}

// HandlePredict handles POST /predict. The payload runs through the pipeline
// without being stored as telemetry.
func (h *PredictionHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.fail(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if raw == nil {
		h.fail(w, r, WrapKind(op, ErrBadRequest, ingest.ErrEmptyPayload))
		return
	}
	res, err := h.deps.Predict(r.Context(), raw)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleLatest handles GET /predict/{vehicleId}.
func (h *PredictionHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	const op = "api.latest_prediction"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.deps.LatestPrediction(r.Context(), id)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
