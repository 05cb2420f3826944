package pipeline

import (
	"context"
	"strings"

	"github.com/okian/fleetguard/internal/domain/model"
)

// Diagnostics issue texts.
const (
	IssueHighRPM           = "High RPM"
	IssueAggressiveBraking = "Aggressive braking"
	IssueHighVibration     = "High vibration"

	// NoIssuesSummary is the summary of a reading that trips no threshold.
	NoIssuesSummary = "No critical issues detected"
)

type threshold struct {
	issue  string
	reason string
	trips  func(s model.Signals) bool
}

var thresholds = []threshold{
	{IssueHighRPM, "rpm > 4000", func(s model.Signals) bool { return s.RPM > 4000 }},
	{IssueAggressiveBraking, "braking > 0.8", func(s model.Signals) bool { return s.Braking > 0.8 }},
	{IssueHighVibration, "vibration > 0.7", func(s model.Signals) bool { return s.Vibration > 0.7 }},
}

// Diagnose evaluates the fixed thresholds against s. Absent signals are zero
// and never trip a threshold.
func Diagnose(s model.Signals) model.Diagnostics {
	d := model.Diagnostics{Issues: []string{}}
	for _, t := range thresholds {
		if t.trips(s) {
			d.Issues = append(d.Issues, t.issue)
			d.Reasons = append(d.Reasons, t.reason)
		}
	}
	d.Summary = Summarize(d.Issues)
	return d
}

// Summarize joins issues with "; ".
func Summarize(issues []string) string {
	if len(issues) == 0 {
		return NoIssuesSummary
	}
	return strings.Join(issues, "; ")
}

func (p *Pipeline) runDiagnostics(ctx context.Context, r *run) (model.Diagnostics, error) {
	d := Diagnose(r.reading.Signals)
	d.Header = p.header(r, StageDiagnostics)
	if err := p.insert(ctx, model.CollectionDiagnostics, d); err != nil {
		return d, err
	}
	return d, p.audit(ctx, r, StageDiagnostics, "Diagnostics assessment", d.Summary)
}
