// Package pipeline runs the telemetry decision stages for one reading and
// persists every decision as an auditable record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/classifier"
	"github.com/okian/fleetguard/internal/domain/features"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/okian/fleetguard/pkg/metrics"
)

// Run outcomes used as metric labels.
const (
	outcomeOK       = "ok"
	outcomeDegraded = "degraded"
	outcomeFailed   = "failed"
	outcomeRejected = "rejected"
)

// Result bundles every stage output of one run.
type Result struct {
	RunID           string                    `json:"runId"`
	VehicleID       string                    `json:"vehicleId"`
	Alerts          []model.Alert             `json:"alerts"`
	Prediction      model.Prediction          `json:"prediction"`
	Diagnostics     model.Diagnostics         `json:"diagnostics"`
	Risk            model.RiskAssessment      `json:"risk"`
	Recommendations []model.Recommendation    `json:"recommendations"`
	Schedule        model.MaintenanceSchedule `json:"schedule"`
	Feedback        model.FeedbackRequest     `json:"feedback"`
	Health          model.VehicleHealth       `json:"health"`
	Outcomes        []StageOutcome            `json:"outcomes"`
}

// Degraded reports whether any stage absorbed a failure.
func (r *Result) Degraded() bool {
	for _, o := range r.Outcomes {
		if o.Status == StatusDegraded {
			return true
		}
	}
	return false
}

// Pipeline executes the decision stages. It is safe for concurrent use;
// each Process call is an independent run.
type Pipeline struct {
	store   repository.Store
	model   *classifier.Model
	builder *features.Builder
	logger  logger.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a pipeline persisting to store. Without WithModel every
// prediction is degraded.
func New(store repository.Store, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrNotConfigured)
	}
	p := &Pipeline{
		store:  store,
		model:  classifier.NewModel(nil),
		logger: logger.Get().Named("pipeline"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.builder == nil {
		p.builder = features.New(p.model.FeatureNames(), nil)
	}
	return p, nil
}

// ModelAvailable reports whether predictions come from a loaded classifier.
func (p *Pipeline) ModelAvailable() bool { return p.model.Available() }

// FeatureSchema returns the feature order used for prediction.
func (p *Pipeline) FeatureSchema() []string { return p.builder.Schema() }

// Process runs every stage for reading in order and returns the full bundle.
// A reading without a vehicle id is rejected before any stage runs. Any other
// error is a *StageError; records written before it carry its RunID.
func (p *Pipeline) Process(ctx context.Context, reading model.Reading) (*Result, error) {
	if err := reading.Validate(); err != nil {
		metrics.RecordPipelineRun(outcomeRejected, 0)
		return nil, err
	}

	start := time.Now()
	r := &run{id: p.newID(), reading: reading}
	res := &Result{RunID: r.id, VehicleID: reading.VehicleID}
	log := p.logger.With(logger.String("vehicleId", reading.VehicleID), logger.String("runId", r.id))

	if err := p.execute(ctx, r, res); err != nil {
		metrics.RecordPipelineRun(outcomeFailed, sinceMs(start))
		log.Error(ctx, "pipeline run failed", logger.Error(err))
		return nil, err
	}

	res.Outcomes = r.snapshot()
	outcome := outcomeOK
	if res.Degraded() {
		outcome = outcomeDegraded
	}
	metrics.RecordPipelineRun(outcome, sinceMs(start))
	if res.Risk.Known() {
		metrics.RecordRiskScore(res.Risk.RiskScore)
	}
	log.Debug(ctx, "pipeline run completed",
		logger.String("outcome", outcome),
		logger.String("healthState", string(res.Health.HealthState)),
		logger.Int("alerts", len(res.Alerts)))
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run, res *Result) error {
	err := p.step(r, StageRules, func() (Status, string, error) {
		alerts, err := p.runRules(ctx, r)
		res.Alerts = alerts
		if err != nil {
			return StatusFailed, "", err
		}
		if len(alerts) == 0 {
			return StatusOK, "", p.timeline(ctx, r, StageRules, "No rules triggered", nil)
		}
		for i := range alerts {
			decision := fmt.Sprintf("Rule triggered (%s) with severity %s", alerts[i].Rule, alerts[i].Severity)
			if err := p.timeline(ctx, r, StageRules, decision, map[string]any{"details": alerts[i].Details}); err != nil {
				return StatusFailed, "", err
			}
		}
		return StatusOK, "", nil
	})
	if err != nil {
		return err
	}

	err = p.step(r, StagePrediction, func() (Status, string, error) {
		pred, status, err := p.runPrediction(ctx, r)
		res.Prediction = pred
		if err != nil {
			return status, "", err
		}
		decision := fmt.Sprintf("Predicted %s (%.2f)", pred.PredictedEvent, pred.Probability)
		var meta map[string]any
		if pred.Degraded {
			meta = map[string]any{"degraded": true, "reason": pred.DegradedReason}
		}
		return status, pred.DegradedReason, p.timeline(ctx, r, StagePrediction, decision, meta)
	})
	if err != nil {
		return err
	}

	err = p.step(r, StageDiagnostics, func() (Status, string, error) {
		d, err := p.runDiagnostics(ctx, r)
		res.Diagnostics = d
		if err != nil {
			return StatusFailed, "", err
		}
		return StatusOK, "", p.timeline(ctx, r, StageDiagnostics, d.Summary, nil)
	})
	if err != nil {
		return err
	}

	err = p.step(r, StageRisk, func() (Status, string, error) {
		risk, err := p.runRisk(ctx, r, &res.Prediction, &res.Diagnostics)
		res.Risk = risk
		if err != nil {
			return StatusFailed, "", err
		}
		decision := fmt.Sprintf("Risk classified %s (%.2f)", risk.Category, risk.RiskScore)
		if !risk.Known() {
			return StatusDegraded, "risk unknown without a prediction", p.timeline(ctx, r, StageRisk, decision, nil)
		}
		return StatusOK, "", p.timeline(ctx, r, StageRisk, decision, nil)
	})
	if err != nil {
		return err
	}

	err = p.step(r, StageRecommendation, func() (Status, string, error) {
		recs, err := p.runRecommendations(ctx, r, &res.Risk, &res.Diagnostics)
		res.Recommendations = recs
		if err != nil {
			return StatusFailed, "", err
		}
		for i := range recs {
			decision := fmt.Sprintf("%s -> %s", recs[i].Component, recs[i].Recommendation)
			if err := p.timeline(ctx, r, StageRecommendation, decision, map[string]any{"severity": recs[i].Severity}); err != nil {
				return StatusFailed, "", err
			}
		}
		return StatusOK, "", nil
	})
	if err != nil {
		return err
	}

	if err := p.scheduleAndRequestFeedback(ctx, r, res); err != nil {
		return err
	}

	return p.step(r, StageOrchestrator, func() (Status, string, error) {
		h, prev, err := p.runHealth(ctx, r, &res.Prediction, &res.Risk)
		res.Health = h
		if err != nil {
			return StatusFailed, "", err
		}
		var meta map[string]any
		if prev != "" {
			meta = map[string]any{"previous": string(prev)}
		}
		decision := fmt.Sprintf("Health state set to %s", h.HealthState)
		if err := p.timeline(ctx, r, StageOrchestrator, decision, meta); err != nil {
			return StatusFailed, "", err
		}
		if h.HealthState == model.HealthUnknown {
			return StatusDegraded, "health unknown without a prediction", nil
		}
		return StatusOK, "", nil
	})
}

// scheduleAndRequestFeedback runs the two independent stages concurrently.
func (p *Pipeline) scheduleAndRequestFeedback(ctx context.Context, r *run, res *Result) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.step(r, StageScheduling, func() (Status, string, error) {
			s, err := p.runScheduling(gctx, r, &res.Risk)
			res.Schedule = s
			if err != nil {
				return StatusFailed, "", err
			}
			decision := fmt.Sprintf("Maintenance scheduled (%s) for %s", s.Priority, s.ScheduledDate)
			return StatusOK, "", p.timeline(gctx, r, StageScheduling, decision, map[string]any{"priority": s.Priority})
		})
	})
	g.Go(func() error {
		return p.step(r, StageFeedback, func() (Status, string, error) {
			f, err := p.runFeedback(gctx, r, &res.Prediction, &res.Risk)
			res.Feedback = f
			if err != nil {
				return StatusFailed, "", err
			}
			return StatusOK, "", p.timeline(gctx, r, StageFeedback, "Feedback requested: "+f.Notes, nil)
		})
	})
	return g.Wait()
}

func (p *Pipeline) observeStage(stage string, ms float64, err error) {
	metrics.RecordStageLatency(stage, ms)
	if err == nil {
		return
	}
	kind := "other"
	if errors.Is(err, repository.ErrStorageUnavailable) {
		kind = "storage"
	}
	metrics.RecordStageFailure(stage, kind)
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
