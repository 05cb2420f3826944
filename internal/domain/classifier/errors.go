package classifier

import (
	"errors"
)

// Sentinel errors for classification.
var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInvalidArtifact  = errors.New("invalid model artifact")
	ErrDimension        = errors.New("feature vector dimension mismatch")
)
