package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/fleetguard/internal/domain/model"
)

// Risk policy constants.
const (
	riskPerIssue     = 0.1
	riskHighCutoff   = 0.7
	riskMediumCutoff = 0.4
)

// ScoreRisk combines the failure probability with the diagnostics issue count.
// The score is clamped to [0, 1] and never decreases in either input.
func ScoreRisk(probability float64, issues int) float64 {
	return math.Max(0, math.Min(1.0, probability+riskPerIssue*float64(issues)))
}

// Categorize buckets a risk score.
func Categorize(score float64) model.RiskCategory {
	switch {
	case score >= riskHighCutoff:
		return model.RiskHigh
	case score >= riskMediumCutoff:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// AssessRisk returns the unstamped risk of a prediction and its diagnostics.
// A degraded prediction yields an unknown category with a zero score. An
// uncalibrated probability is used as-is, so a hard-label model scores 1.0.
func AssessRisk(pred *model.Prediction, diag *model.Diagnostics) model.RiskAssessment {
	if pred.Degraded {
		return model.RiskAssessment{Category: model.RiskUnknown}
	}
	score := ScoreRisk(pred.Probability, len(diag.Issues))
	return model.RiskAssessment{RiskScore: score, Category: Categorize(score)}
}

func (p *Pipeline) runRisk(ctx context.Context, r *run, pred *model.Prediction, diag *model.Diagnostics) (model.RiskAssessment, error) {
	risk := AssessRisk(pred, diag)
	risk.Header = p.header(r, StageRisk)
	if err := p.insert(ctx, model.CollectionRiskLogs, risk); err != nil {
		return risk, err
	}

	reason := fmt.Sprintf("Probability %.2f, issues %d", pred.Probability, len(diag.Issues))
	if !risk.Known() {
		reason = fmt.Sprintf("Prediction unavailable, issues %d", len(diag.Issues))
	}
	return risk, p.audit(ctx, r, StageRisk, fmt.Sprintf("Risk classified as %s", risk.Category), reason)
}
