package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/fleetguard/internal/adapters/ingest"
	"github.com/okian/fleetguard/internal/adapters/repository"
	service "github.com/okian/fleetguard/internal/app"
	"github.com/okian/fleetguard/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBackpressure = errors.New("backpressure")
	ErrUnavailable  = errors.New("service unavailable")
	ErrInternal     = errors.New("internal error")
)

// Error is an API failure tagged with the handler operation and its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap tags err with op and infers its kind.
func Wrap(op string, err error) error {
	return &Error{Op: op, Kind: kindOf(err), Err: err}
}

// WrapKind tags err with op and an explicit kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// NewKind creates an error of kind with no underlying cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

func kindOf(err error) error {
	switch {
	case errors.Is(err, model.ErrMissingRequiredField),
		errors.Is(err, ingest.ErrInvalidPayload),
		errors.Is(err, ingest.ErrInvalidCSV),
		errors.Is(err, ingest.ErrInvalidTimestamp),
		errors.Is(err, ingest.ErrEmptyPayload),
		errors.Is(err, service.ErrInvalidFeedback),
		errors.Is(err, service.ErrInvalidVehicle):
		return ErrBadRequest
	case errors.Is(err, service.ErrVehicleExists):
		return ErrConflict
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, service.ErrQueueFull):
		return ErrBackpressure
	case errors.Is(err, service.ErrNotStarted),
		errors.Is(err, repository.ErrStorageUnavailable):
		return ErrUnavailable
	default:
		return ErrInternal
	}
}

// statusFor maps an error to its HTTP status and response code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
