// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/okian/fleetguard/pkg/logger"
)

// maxBodyBytes bounds request bodies, CSV uploads included.
const maxBodyBytes = 10 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	TelemetryDependencies
	PredictionDependencies
	VehicleDependencies
	FleetDependencies
	FeedbackDependencies
	RegistryDependencies
	ChatDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	telemetryHandler  *TelemetryHandler
	predictionHandler *PredictionHandler
	vehicleHandler    *VehicleHandler
	fleetHandler      *FleetHandler
	feedbackHandler   *FeedbackHandler
	registryHandler   *RegistryHandler
	chatHandler       *ChatHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, log logger.Logger) *Server {
	if log == nil {
		log = logger.Get().Named("api")
	}
	r := responder{logger: log}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		telemetryHandler:  &TelemetryHandler{deps: deps, responder: r},
		predictionHandler: &PredictionHandler{deps: deps, responder: r},
		vehicleHandler:    &VehicleHandler{deps: deps, responder: r},
		fleetHandler:      &FleetHandler{deps: deps, responder: r},
		feedbackHandler:   &FeedbackHandler{deps: deps, responder: r},
		registryHandler:   &RegistryHandler{deps: deps, responder: r},
		chatHandler:       &ChatHandler{deps: deps, responder: r},
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /telemetry/ingest", MetricsMiddleware(s.telemetryHandler.HandleIngest, "telemetry_ingest"))
	mux.HandleFunc("GET /telemetry/latest/{vehicleId}", MetricsMiddleware(s.telemetryHandler.HandleLatest, "telemetry_latest"))

	mux.HandleFunc("POST /predict", MetricsMiddleware(s.predictionHandler.HandlePredict, "predict"))
	mux.HandleFunc("GET /predict/{vehicleId}", MetricsMiddleware(s.predictionHandler.HandleLatest, "predict_latest"))

	mux.HandleFunc("GET /risk/{vehicleId}", MetricsMiddleware(s.vehicleHandler.HandleRisk, "risk"))
	mux.HandleFunc("GET /recommendations/{vehicleId}", MetricsMiddleware(s.vehicleHandler.HandleRecommendations, "recommendations"))
	mux.HandleFunc("GET /agent-timeline/{vehicleId}", MetricsMiddleware(s.vehicleHandler.HandleTimeline, "agent_timeline"))
	mux.HandleFunc("GET /vehicles/list", MetricsMiddleware(s.vehicleHandler.HandleList, "vehicles_list"))
	mux.HandleFunc("GET /vehicles/{vehicleId}", MetricsMiddleware(s.vehicleHandler.HandleHealth, "vehicle_health"))
	mux.HandleFunc("POST /vehicles", MetricsMiddleware(s.registryHandler.HandleRegister, "vehicle_register"))
	mux.HandleFunc("PUT /vehicles/{vehicleId}", MetricsMiddleware(s.registryHandler.HandleUpdate, "vehicle_update"))
	mux.HandleFunc("DELETE /vehicles/{vehicleId}", MetricsMiddleware(s.registryHandler.HandleDelete, "vehicle_delete"))

	mux.HandleFunc("GET /alerts", MetricsMiddleware(s.fleetHandler.HandleAlerts, "alerts"))
	mux.HandleFunc("GET /fleet/overview", MetricsMiddleware(s.fleetHandler.HandleOverview, "fleet_overview"))
	mux.HandleFunc("GET /fleet/top-risk", MetricsMiddleware(s.fleetHandler.HandleTopRisk, "fleet_top_risk"))
	mux.HandleFunc("GET /fleet/agent-actions", MetricsMiddleware(s.fleetHandler.HandleAgentActions, "fleet_agent_actions"))

	mux.HandleFunc("POST /feedback", MetricsMiddleware(s.feedbackHandler.HandleSubmit, "feedback"))

	mux.HandleFunc("POST /assistant/chat", MetricsMiddleware(s.chatHandler.HandleAssistant, "assistant_chat"))
	mux.HandleFunc("POST /bot/chat", MetricsMiddleware(s.chatHandler.HandleBot, "bot_chat"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// responder maps handler errors to responses and logs server-side failures.
type responder struct {
	logger logger.Logger
}

func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		rs.logger.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

// queryLimit reads an optional positive limit parameter; 0 means the default.
func queryLimit(op string, r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, NewKind(op, ErrBadRequest)
	}
	return n, nil
}

func vehicleID(op string, r *http.Request) (string, error) {
	id := r.PathValue("vehicleId")
	if id == "" {
		return "", NewKind(op, ErrBadRequest)
	}
	return id, nil
}
