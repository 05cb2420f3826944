package pipeline

import (
	"errors"
	"fmt"

	"github.com/okian/fleetguard/internal/adapters/repository"
)

// Sentinel errors for pipeline runs.
var (
	ErrRunAborted    = errors.New("pipeline run aborted")
	ErrNotConfigured = errors.New("pipeline not configured")
)

// StageError reports the stage that aborted a run. Records persisted by
// earlier stages of the same run carry RunID.
type StageError struct {
	Stage string
	RunID string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s at %s (run %s): %v", ErrRunAborted, e.Stage, e.RunID, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{ErrRunAborted, e.Err} }

// Retryable reports whether the same reading may succeed on a later attempt.
func (e *StageError) Retryable() bool {
	return errors.Is(e.Err, repository.ErrStorageUnavailable)
}
