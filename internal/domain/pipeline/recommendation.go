package pipeline

import (
	"context"

	"github.com/okian/fleetguard/internal/domain/model"
)

// Recommendation components.
const (
	ComponentDrivetrain = "drivetrain"
	ComponentBrakes     = "brakes"
	ComponentGeneral    = "general"
)

const brakeWearLimit = 0.6

// Recommend evaluates the maintenance rules in order. Rules are not exclusive;
// when none fires a single low-severity fallback is returned.
func Recommend(risk *model.RiskAssessment, diag *model.Diagnostics, s model.Signals) []model.Recommendation {
	var out []model.Recommendation
	if risk.RiskScore >= riskHighCutoff || diag.HasIssue(IssueHighVibration) {
		out = append(out, model.Recommendation{
			Component:      ComponentDrivetrain,
			Recommendation: "Inspect drivetrain vibration mounts within 24 hours",
			Severity:       model.SeverityHigh,
			DueWithinHours: 24,
		})
	}
	if s.Braking > brakeWearLimit {
		out = append(out, model.Recommendation{
			Component:      ComponentBrakes,
			Recommendation: "Inspect brake pads within 48 hours",
			Severity:       model.SeverityMedium,
			DueWithinHours: 48,
		})
	}
	if len(out) == 0 {
		out = append(out, model.Recommendation{
			Component:      ComponentGeneral,
			Recommendation: "No immediate maintenance required",
			Severity:       model.SeverityLow,
		})
	}
	return out
}

// runRecommendations persists every recommendation as its own document.
func (p *Pipeline) runRecommendations(ctx context.Context, r *run, risk *model.RiskAssessment, diag *model.Diagnostics) ([]model.Recommendation, error) {
	recs := Recommend(risk, diag, r.reading.Signals)
	for i := range recs {
		recs[i].Header = p.header(r, StageRecommendation)
		if err := p.insert(ctx, model.CollectionRecommendations, recs[i]); err != nil {
			return recs[:i], err
		}
	}
	return recs, nil
}
