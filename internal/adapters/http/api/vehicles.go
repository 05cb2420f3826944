package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/model"
)

// VehicleDependencies defines the per-vehicle read operations.
type VehicleDependencies interface {
	LatestRisk(ctx context.Context, vehicleID string) (*model.RiskAssessment, error)
	Recommendations(ctx context.Context, vehicleID string, limit int) ([]model.Recommendation, error)
	Timeline(ctx context.Context, vehicleID string, limit int) ([]model.TimelineEntry, error)
	VehicleHealth(ctx context.Context, vehicleID string) (*model.VehicleHealth, error)
	Vehicles(ctx context.Context) ([]string, error)
}

// VehicleHandler handles per-vehicle requests.
type VehicleHandler struct {
	deps VehicleDependencies
	responder
}

type noRiskResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type vehicleListResponse struct {
	Vehicles []string `json:"vehicles"`
	Count    int      `json:"count"`
}

// HandleRisk handles GET /risk/{vehicleId}. A vehicle with no assessment yet
// gets a 200 with status no_risk_data.
func (h *VehicleHandler) HandleRisk(w http.ResponseWriter, r *http.Request) {
	const op = "api.latest_risk"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	risk, err := h.deps.LatestRisk(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, noRiskResponse{Status: "no_risk_data", Message: "Risk not generated yet"})
		return
	}
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, risk)
}

// HandleRecommendations handles GET /recommendations/{vehicleId}?limit=N.
func (h *VehicleHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	const op = "api.recommendations"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryLimit(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recs, err := h.deps.Recommendations(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleTimeline handles GET /agent-timeline/{vehicleId}?limit=N.
func (h *VehicleHandler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	const op = "api.agent_timeline"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryLimit(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.deps.Timeline(r.Context(), id, limit)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleHealth handles GET /vehicles/{vehicleId}.
func (h *VehicleHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	const op = "api.vehicle_health"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	vh, err := h.deps.VehicleHealth(r.Context(), id)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, vh)
}

// HandleList handles GET /vehicles/list.
func (h *VehicleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.vehicles_list"
	ids, err := h.deps.Vehicles(r.Context())
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, vehicleListResponse{Vehicles: ids, Count: len(ids)})
}
