package pipeline

import (
	"context"
	"fmt"

	"github.com/okian/fleetguard/internal/domain/model"
)

// FeedbackNotes references the predicted event and risk score.
func FeedbackNotes(pred *model.Prediction, risk *model.RiskAssessment) string {
	if !risk.Known() {
		return fmt.Sprintf("Prediction %s with risk unknown", pred.PredictedEvent)
	}
	return fmt.Sprintf("Prediction %s with risk %.2f", pred.PredictedEvent, risk.RiskScore)
}

func (p *Pipeline) runFeedback(ctx context.Context, r *run, pred *model.Prediction, risk *model.RiskAssessment) (model.FeedbackRequest, error) {
	f := model.FeedbackRequest{
		Header:    p.header(r, StageFeedback),
		Status:    model.FeedbackAwaiting,
		Notes:     FeedbackNotes(pred, risk),
		Predicted: pred.PredictedEvent,
	}
	if err := p.insert(ctx, model.CollectionFeedback, f); err != nil {
		return f, err
	}
	return f, p.audit(ctx, r, StageFeedback, "Requested driver/technician feedback", f.Notes)
}
