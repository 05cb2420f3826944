package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/okian/fleetguard/internal/domain/classifier"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/okian/fleetguard/pkg/metrics"
)

// DegradedLabel is the predicted event of a prediction without model output.
const DegradedLabel = "unknown"

// infer builds the feature vector, classifies it and explains the result.
func (p *Pipeline) infer(fields map[string]any) (model.Prediction, error) {
	if !p.model.Available() {
		return model.Prediction{}, classifier.ErrModelUnavailable
	}
	vec, err := p.builder.Build(fields)
	if err != nil {
		return model.Prediction{}, err
	}
	cls, err := p.model.Classify(vec.Values())
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Prediction{
		PredictedEvent:  cls.Label,
		Probability:     cls.Probability,
		Probabilities:   cls.Distribution,
		Calibrated:      cls.Calibrated,
		Explanation:     classifier.Explain(vec, p.model.Importances()),
		ExplanationText: classifier.Summary(vec),
	}, nil
}

// degradedPrediction stands in for a prediction the policy allowed to fail.
func degradedPrediction(err error) model.Prediction {
	return model.Prediction{
		PredictedEvent: DegradedLabel,
		Explanation:    []model.FeatureImpact{},
		Degraded:       true,
		DegradedReason: err.Error(),
	}
}

// predictionReason lists the top contributors, or falls back to the
// explanation text when the model exposes no weights.
func predictionReason(pred *model.Prediction, weighted bool) string {
	if !weighted || len(pred.Explanation) == 0 {
		return pred.ExplanationText
	}
	parts := make([]string, len(pred.Explanation))
	for i, e := range pred.Explanation {
		parts[i] = e.Feature + " (" + strconv.FormatFloat(e.Impact, 'f', -1, 64) + ")"
	}
	return strings.Join(parts, ", ")
}

// runPrediction persists the prediction and its audit action. A failure the
// policy degrades yields a flagged placeholder instead of an error.
func (p *Pipeline) runPrediction(ctx context.Context, r *run) (model.Prediction, Status, error) {
	status := StatusOK
	pred, err := p.infer(r.reading.Fields)
	if err != nil {
		if Decide(StagePrediction, err) == ActionFatal {
			return model.Prediction{}, StatusFailed, err
		}
		status = StatusDegraded
		pred = degradedPrediction(err)
		metrics.RecordDegradedPrediction(degradedReason(err))
		p.logger.Warn(ctx, "prediction degraded",
			logger.String("vehicleId", r.reading.VehicleID),
			logger.String("runId", r.id),
			logger.Error(err))
	}

	pred.Header = p.header(r, StagePrediction)
	if err := p.insert(ctx, model.CollectionPredictions, pred); err != nil {
		return pred, StatusFailed, err
	}

	action, reason := "Predicted event", predictionReason(&pred, p.model.Importances() != nil)
	if pred.Degraded {
		action, reason = "Prediction degraded", pred.DegradedReason
	}
	if err := p.audit(ctx, r, StagePrediction, action, reason); err != nil {
		return pred, StatusFailed, err
	}
	metrics.RecordPrediction(pred.PredictedEvent)
	return pred, status, nil
}
