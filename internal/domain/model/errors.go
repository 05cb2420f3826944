package model

import (
	"errors"
	"fmt"
)

// ErrMissingRequiredField marks a reading that cannot enter the pipeline.
var ErrMissingRequiredField = errors.New("missing required field")

// MissingFieldError names the absent field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredField, e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingRequiredField }
