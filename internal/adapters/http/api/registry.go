package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/fleetguard/internal/adapters/repository"
)

// RegistryDependencies defines the vehicle registry operations.
type RegistryDependencies interface {
	RegisterVehicle(ctx context.Context, payload map[string]any) (repository.Document, error)
	UpdateVehicle(ctx context.Context, vehicleID string, updates map[string]any) (repository.Document, error)
	DeleteVehicle(ctx context.Context, vehicleID string) error
}

// RegistryHandler handles vehicle registration requests.
type RegistryHandler struct {
	deps RegistryDependencies
	responder
}

type registryResponse struct {
	Status  string              `json:"status"`
	Vehicle repository.Document `json:"vehicle,omitempty"`
}

func decodeObject(w http.ResponseWriter, r *http.Request, op string) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
		return nil, WrapKind(op, ErrBadRequest, err)
	}
	return payload, nil
}

// HandleRegister handles POST /vehicles.
func (h *RegistryHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_vehicle"
	payload, err := decodeObject(w, r, op)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.deps.RegisterVehicle(r.Context(), payload)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, registryResponse{Status: "vehicle created", Vehicle: doc})
}

// HandleUpdate handles PUT /vehicles/{vehicleId}.
func (h *RegistryHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_vehicle"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	updates, err := decodeObject(w, r, op)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.deps.UpdateVehicle(r.Context(), id, updates)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, registryResponse{Status: "vehicle updated", Vehicle: doc})
}

// HandleDelete handles DELETE /vehicles/{vehicleId}.
func (h *RegistryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_vehicle"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.DeleteVehicle(r.Context(), id); err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, registryResponse{Status: "vehicle deleted"})
}
