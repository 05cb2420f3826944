package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/fleetguard/internal/domain/model"
)

// Stage names. They are written as the source of every record a stage persists
// and as the agent of its timeline entries.
const (
	StageRules          = "RuleStage"
	StagePrediction     = "PredictionStage"
	StageDiagnostics    = "DiagnosticsStage"
	StageRisk           = "RiskStage"
	StageRecommendation = "RecommendationStage"
	StageScheduling     = "SchedulingStage"
	StageFeedback       = "FeedbackStage"
	StageOrchestrator   = "PipelineOrchestrator"
)

// Stages lists the stage names in execution order. Scheduling and feedback
// run concurrently; the health update belongs to the orchestrator.
var Stages = []string{
	StageRules, StagePrediction, StageDiagnostics, StageRisk,
	StageRecommendation, StageScheduling, StageFeedback, StageOrchestrator,
}

// run carries the state of one Process call.
type run struct {
	id      string
	reading model.Reading

	mu       sync.Mutex
	outcomes []StageOutcome
}

func (r *run) record(o StageOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *run) snapshot() []StageOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StageOutcome(nil), r.outcomes...)
}

// header stamps a record produced by source during r.
func (p *Pipeline) header(r *run, source string) model.Header {
	return model.Header{
		ID:        p.newID(),
		RunID:     r.id,
		VehicleID: r.reading.VehicleID,
		Timestamp: r.reading.StampAt(p.now()),
		Source:    source,
	}
}

func (p *Pipeline) insert(ctx context.Context, collection string, record any) error {
	if err := p.store.Insert(ctx, collection, record); err != nil {
		return fmt.Errorf("insert %s: %w", collection, err)
	}
	return nil
}

// audit persists the action a stage took and why.
func (p *Pipeline) audit(ctx context.Context, r *run, source, action, reason string) error {
	return p.insert(ctx, model.CollectionActions, model.AuditAction{
		Header: p.header(r, source),
		Action: action,
		Reason: reason,
	})
}

// timeline appends one decision to the vehicle's audit trail.
func (p *Pipeline) timeline(ctx context.Context, r *run, agent, decision string, metadata map[string]any) error {
	h := p.header(r, StageOrchestrator)
	return p.insert(ctx, model.CollectionTimeline, model.TimelineEntry{
		Header:   h,
		Agent:    agent,
		Decision: decision,
		Metadata: metadata,
	})
}

// stageFunc runs one stage. detail describes an absorbed failure when status is degraded.
type stageFunc func() (status Status, detail string, err error)

// step times fn, records its outcome and converts a failure into a *StageError.
func (p *Pipeline) step(r *run, stage string, fn stageFunc) error {
	start := time.Now()
	status, detail, err := fn()
	ms := float64(time.Since(start).Microseconds()) / 1000

	out := StageOutcome{Stage: stage, Status: status, Error: detail, DurationMs: ms}
	if err != nil {
		out.Status = StatusFailed
		out.Error = err.Error()
	}
	r.record(out)
	p.observeStage(stage, ms, err)
	if err != nil {
		return &StageError{Stage: stage, RunID: r.id, Err: err}
	}
	return nil
}
