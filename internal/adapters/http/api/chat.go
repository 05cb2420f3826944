package api

import (
	"context"
	"net/http"

	"github.com/okian/fleetguard/internal/adapters/ingest"
	service "github.com/okian/fleetguard/internal/app"
	"github.com/okian/fleetguard/internal/domain/assistant"
	"github.com/okian/fleetguard/internal/domain/model"
)

// ChatDependencies defines the question answering operation.
type ChatDependencies interface {
	Chat(ctx context.Context, vehicleID, question string, style service.ChatStyle) (*assistant.Reply, error)
}

// ChatHandler answers questions about one vehicle.
type ChatHandler struct {
	deps ChatDependencies
	responder
}

type chatResponse struct {
	VehicleID string `json:"vehicleId"`
	*assistant.Reply
}

// HandleAssistant handles POST /assistant/chat {vehicleId, question}.
func (h *ChatHandler) HandleAssistant(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "api.assistant_chat", "question", service.ChatAssistant)
}

// HandleBot handles POST /bot/chat {vehicleId, message}.
func (h *ChatHandler) HandleBot(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "api.bot_chat", "message", service.ChatBot)
}

func (h *ChatHandler) handle(w http.ResponseWriter, r *http.Request, op, textKey string, style service.ChatStyle) {
	payload, err := decodeObject(w, r, op)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, ok := ingest.VehicleID(payload["vehicleId"])
	if !ok {
		h.fail(w, r, WrapKind(op, ErrBadRequest, &model.MissingFieldError{Field: "vehicleId"}))
		return
	}
	text, _ := payload[textKey].(string)
	reply, err := h.deps.Chat(r.Context(), id, text, style)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{VehicleID: id, Reply: reply})
}
