package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/okian/fleetguard/internal/domain/model"
)

// DecodeJSON accepts a single telemetry object or an array of them.
func DecodeJSON(r io.Reader) ([]map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrEmptyPayload
	}
	if raw[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if len(records) == 0 {
			return nil, ErrEmptyPayload
		}
		return records, nil
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return []map[string]any{record}, nil
}

// Readings normalizes every record for the ingestion endpoint: a timestamp is
// required and readings without a source are tagged DefaultSource. The first
// bad record fails the batch and is identified by its index.
func Readings(records []map[string]any) ([]model.Reading, error) {
	out := make([]model.Reading, 0, len(records))
	for i, rec := range records {
		r, err := Normalize(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if r.Timestamp.IsZero() {
			return nil, fmt.Errorf("record %d: %w", i, &model.MissingFieldError{Field: "timestamp"})
		}
		if r.Source == "" {
			r.Source = DefaultSource
		}
		out = append(out, r)
	}
	return out, nil
}
