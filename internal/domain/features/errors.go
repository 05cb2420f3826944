package features

import (
	"errors"
	"fmt"
)

// Sentinel errors for feature construction.
var (
	ErrFeatureCoercion = errors.New("feature coercion failed")
	ErrInvalidMapping  = errors.New("invalid feature mapping")
)

// CoercionError names the field whose value is not numeric.
type CoercionError struct {
	Field string
	Value any
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("%s: field %q has non-numeric value %v", ErrFeatureCoercion, e.Field, e.Value)
}

func (e *CoercionError) Unwrap() error { return ErrFeatureCoercion }
