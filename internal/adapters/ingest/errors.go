package ingest

import (
	"errors"
)

// Sentinel errors for telemetry ingestion.
var (
	ErrInvalidPayload   = errors.New("invalid telemetry payload")
	ErrInvalidCSV       = errors.New("invalid telemetry CSV")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrEmptyPayload     = errors.New("no telemetry payload provided")
)
