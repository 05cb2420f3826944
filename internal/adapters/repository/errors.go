package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound           = errors.New("document not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidRecord      = errors.New("invalid record")
	ErrInvalidLimit       = errors.New("invalid limit")
	ErrUnknownDriver      = errors.New("unknown store driver")
	ErrDeleteUnsupported  = errors.New("store does not support deletes")
	ErrEmptyFilter        = errors.New("delete requires a filter")
)
