package pipeline

import (
	"context"

	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/metrics"
)

// Rule identifiers.
const (
	RuleVibrationBrake = "vibration_brake_combo"
	RuleSpeedAngular   = "speed_angular_combo"
)

// Rule thresholds.
const (
	vibrationBrakeLimit = 0.8
	speedLimit          = 100.0
)

type alertRule struct {
	name     string
	severity model.Severity
	details  string
	fires    func(s model.Signals) bool
}

var alertRules = []alertRule{
	{
		name:     RuleVibrationBrake,
		severity: model.SeverityHigh,
		details:  "High vibration with hard brake event",
		fires:    func(s model.Signals) bool { return s.Vibration > vibrationBrakeLimit && s.HardBrake },
	},
	{
		name:     RuleSpeedAngular,
		severity: model.SeverityMedium,
		details:  "High speed with elevated angular acceleration",
		fires:    func(s model.Signals) bool { return s.Speed > speedLimit && s.AngularAcceleration > s.AngularThreshold },
	},
}

// EvaluateRules returns an unstamped alert for every rule s triggers, in rule order.
func EvaluateRules(s model.Signals) []model.Alert {
	alerts := make([]model.Alert, 0, len(alertRules))
	for _, r := range alertRules {
		if r.fires(s) {
			alerts = append(alerts, model.Alert{Rule: r.name, Severity: r.severity, Details: r.details})
		}
	}
	return alerts
}

// runRules persists each triggered alert as soon as it is stamped.
func (p *Pipeline) runRules(ctx context.Context, r *run) ([]model.Alert, error) {
	alerts := EvaluateRules(r.reading.Signals)
	for i := range alerts {
		alerts[i].Header = p.header(r, StageRules)
		if err := p.insert(ctx, model.CollectionAlerts, alerts[i]); err != nil {
			return alerts[:i], err
		}
		metrics.RecordAlert(alerts[i].Rule, string(alerts[i].Severity))
	}
	return alerts, nil
}

// ReprocessRules re-runs only the rule stage for a stored reading. Alerts are
// persisted under a fresh run id; no other stage runs.
func (p *Pipeline) ReprocessRules(ctx context.Context, reading model.Reading) ([]model.Alert, error) { //nolint:gocritic // hugeParam: Reading is passed by value like Process
	if err := reading.Validate(); err != nil {
		return nil, err
	}
	r := &run{id: p.newID(), reading: reading}
	alerts, err := p.runRules(ctx, r)
	if err != nil {
		return alerts, &StageError{Stage: StageRules, RunID: r.id, Err: err}
	}
	return alerts, nil
}
