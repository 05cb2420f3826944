package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/fleetguard/internal/domain/model"
)

const day = 24 * time.Hour

// Schedule maps a risk assessment to a maintenance slot relative to now.
// An unknown risk books a standard slot.
func Schedule(risk *model.RiskAssessment, now time.Time) (time.Time, model.Priority) {
	switch {
	case !risk.Known():
		return now.Add(7 * day), model.PriorityStandard
	case risk.RiskScore >= riskHighCutoff:
		return now.Add(day), model.PriorityUrgent
	case risk.RiskScore >= riskMediumCutoff:
		return now.Add(7 * day), model.PriorityStandard
	default:
		return now.Add(30 * day), model.PriorityLow
	}
}

func (p *Pipeline) runScheduling(ctx context.Context, r *run, risk *model.RiskAssessment) (model.MaintenanceSchedule, error) {
	date, priority := Schedule(risk, p.now())
	s := model.MaintenanceSchedule{
		Header:        p.header(r, StageScheduling),
		ScheduledDate: model.FormatTime(date),
		Priority:      priority,
		RiskScore:     risk.RiskScore,
	}
	if err := p.insert(ctx, model.CollectionMaintenance, s); err != nil {
		return s, err
	}
	reason := fmt.Sprintf("Risk score %.2f", risk.RiskScore)
	if !risk.Known() {
		reason = "Risk score unknown"
	}
	return s, p.audit(ctx, r, StageScheduling, fmt.Sprintf("Maintenance scheduled (%s)", priority), reason)
}
