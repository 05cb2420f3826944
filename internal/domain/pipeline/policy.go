package pipeline

import (
	"errors"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/classifier"
	"github.com/okian/fleetguard/internal/domain/features"
)

// Action is what the orchestrator does with a stage failure.
type Action int

const (
	// ActionFatal aborts the run and returns a *StageError.
	ActionFatal Action = iota
	// ActionDegrade replaces the stage output with a flagged placeholder and continues.
	ActionDegrade
)

func (a Action) String() string {
	if a == ActionDegrade {
		return "degrade"
	}
	return "fatal"
}

// Status of one stage in one run.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// StageOutcome is the per-stage result recorded for every run.
type StageOutcome struct {
	Stage      string  `json:"stage"`
	Status     Status  `json:"status"`
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

type policyRule struct {
	match  error
	action Action
}

// policyTable lists the failures a stage may absorb. Anything not listed is fatal.
var policyTable = map[string][]policyRule{
	StagePrediction: {
		{match: features.ErrFeatureCoercion, action: ActionDegrade},
		{match: classifier.ErrModelUnavailable, action: ActionDegrade},
	},
}

// Decide returns the action for err raised by stage. Storage failures are
// always fatal so that no audit write is silently dropped.
func Decide(stage string, err error) Action {
	if err == nil || errors.Is(err, repository.ErrStorageUnavailable) {
		return ActionFatal
	}
	for _, r := range policyTable[stage] {
		if errors.Is(err, r.match) {
			return r.action
		}
	}
	return ActionFatal
}

// degradedReason is the metric label for a degraded prediction.
func degradedReason(err error) string {
	switch {
	case errors.Is(err, features.ErrFeatureCoercion):
		return "feature_coercion"
	case errors.Is(err, classifier.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "other"
	}
}
