package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/okian/fleetguard/internal/adapters/ingest"
	"github.com/okian/fleetguard/internal/adapters/repository"
	service "github.com/okian/fleetguard/internal/app"
)

// Ingestion formats, used as metric labels.
const (
	formatJSON = "json"
	formatCSV  = "csv"
)

// TelemetryDependencies defines the ingestion operations.
type TelemetryDependencies interface {
	Ingest(ctx context.Context, records []map[string]any, format string, async bool) (*service.IngestResult, error)
	LatestTelemetry(ctx context.Context, vehicleID string) (repository.Document, error)
}

// TelemetryHandler handles telemetry requests.
type TelemetryHandler struct {
	deps TelemetryDependencies
	responder
}

// HandleIngest handles POST /telemetry/ingest. The body is a JSON object, a
// JSON array, a text/csv upload or a multipart form with a "file" CSV part.
// With ?async=true readings are queued and the response is 202.
func (h *TelemetryHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	const op = "api.ingest_telemetry"
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	async := false
	if raw := r.URL.Query().Get("async"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, WrapKind(op, ErrBadRequest, err))
			return
		}
		async = v
	}

	records, format, err := readTelemetry(r)
	if err != nil {
		h.fail(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.Ingest(r.Context(), records, format, async)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// HandleLatest handles GET /telemetry/latest/{vehicleId}.
func (h *TelemetryHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	const op = "api.latest_telemetry"
	id, err := vehicleID(op, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.deps.LatestTelemetry(r.Context(), id)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func readTelemetry(r *http.Request) ([]map[string]any, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "text/csv", "application/csv":
		rows, err := ingest.ParseCSV(r.Body)
		return rows, formatCSV, err
	case "multipart/form-data":
		f, _, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, formatCSV, ingest.ErrEmptyPayload
		}
		if err != nil {
			return nil, formatCSV, err
		}
		defer func() { _ = f.Close() }()
		rows, err := ingest.ParseCSV(f)
		return rows, formatCSV, err
	default:
		records, err := ingest.DecodeJSON(r.Body)
		return records, formatJSON, err
	}
}
