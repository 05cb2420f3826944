package api

import (
	"context"
	"net/http"

	service "github.com/okian/fleetguard/internal/app"
	"github.com/okian/fleetguard/internal/domain/model"
)

// FleetDependencies defines the fleet-wide read operations.
type FleetDependencies interface {
	Alerts(ctx context.Context, limit int) ([]model.Alert, error)
	FleetOverview(ctx context.Context) (*service.FleetOverview, error)
	TopRisk(ctx context.Context) ([]model.RiskAssessment, error)
	AgentActions(ctx context.Context, limit int) ([]model.AuditAction, error)
}

// FleetHandler handles fleet-wide requests.
type FleetHandler struct {
	deps FleetDependencies
	responder
}

// HandleAlerts handles GET /alerts?limit=N.
func (h *FleetHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	const op = "api.alerts"
	limit, err := queryLimit(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	alerts, err := h.deps.Alerts(r.Context(), limit)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// HandleOverview handles GET /fleet/overview.
func (h *FleetHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	const op = "api.fleet_overview"
	ov, err := h.deps.FleetOverview(r.Context())
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// HandleTopRisk handles GET /fleet/top-risk.
func (h *FleetHandler) HandleTopRisk(w http.ResponseWriter, r *http.Request) {
	const op = "api.fleet_top_risk"
	risks, err := h.deps.TopRisk(r.Context())
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, risks)
}

// HandleAgentActions handles GET /fleet/agent-actions?limit=N.
func (h *FleetHandler) HandleAgentActions(w http.ResponseWriter, r *http.Request) {
	const op = "api.fleet_agent_actions"
	limit, err := queryLimit(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actions, err := h.deps.AgentActions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, actions)
}
