package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/metrics"
)

// DeriveHealth evaluates the health rule top-down, first match wins. It depends
// only on its inputs, never on earlier runs.
func DeriveHealth(riskScore, probability float64) model.HealthState {
	switch {
	case riskScore > 0.8:
		return model.HealthGrounded
	case probability > 0.75:
		return model.HealthCritical
	case riskScore >= 0.4 || probability > 0.5:
		return model.HealthWarning
	default:
		return model.HealthHealthy
	}
}

// healthFor reports unknown when the risk was not computed from a real prediction.
func healthFor(pred *model.Prediction, risk *model.RiskAssessment) model.HealthState {
	if pred.Degraded || !risk.Known() {
		return model.HealthUnknown
	}
	return DeriveHealth(risk.RiskScore, pred.Probability)
}

// previousHealth returns the stored state, or "" for a vehicle seen for the first time.
func (p *Pipeline) previousHealth(ctx context.Context, vehicleID string) (model.HealthState, error) {
	doc, err := p.store.FindLatest(ctx, model.CollectionVehicles, repository.Filter{"vehicleId": vehicleID}, "")
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read health: %w", err)
	}
	s, _ := doc["healthState"].(string)
	return model.HealthState(s), nil
}

// runHealth upserts the vehicle record. Concurrent runs for one vehicle race
// and the last upsert to land wins.
func (p *Pipeline) runHealth(ctx context.Context, r *run, pred *model.Prediction, risk *model.RiskAssessment) (model.VehicleHealth, model.HealthState, error) {
	prev, err := p.previousHealth(ctx, r.reading.VehicleID)
	if err != nil {
		return model.VehicleHealth{}, "", err
	}
	h := model.VehicleHealth{
		VehicleID:          r.reading.VehicleID,
		HealthState:        healthFor(pred, risk),
		RiskScore:          risk.RiskScore,
		FailureProbability: pred.Probability,
		Timestamp:          r.reading.StampAt(p.now()),
		RunID:              r.id,
	}
	filter := repository.Filter{"vehicleId": h.VehicleID}
	if err := p.store.Upsert(ctx, model.CollectionVehicles, filter, h); err != nil {
		return h, prev, fmt.Errorf("upsert health: %w", err)
	}
	metrics.RecordHealthState(string(h.HealthState))
	return h, prev, nil
}
