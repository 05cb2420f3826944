// Package service wires the store, the decision pipeline and the ingestion
// queue into the operations the HTTP API and the tools depend on.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/fleetguard/internal/adapters/ingest"
	eventqueue "github.com/okian/fleetguard/internal/adapters/mq/queue"
	workerpool "github.com/okian/fleetguard/internal/adapters/mq/worker"
	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/internal/domain/pipeline"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/okian/fleetguard/pkg/metrics"
)

// Sources written on readings that did not name one.
const (
	SourcePredict  = "predict_api"
	SourceFeedback = "user_feedback"
)

// Service implements the API dependencies for the telemetry pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	pipeline *pipeline.Pipeline
	queue    eventqueue.Queue
	pool     *workerpool.Pool

	// Configuration
	workerCount      int
	queueSize        int
	modelPath        string
	mediansPath      string
	medianSampleSize int
	maxListLimit     int

	// State
	started   bool
	startedAt time.Time

	logger logger.Logger
	now    func() time.Time
}

// New constructs a Service persisting to store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        10_000,
		medianSampleSize: 500,
		maxListLimit:     100,
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the model and feature mapping, then starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		return fmt.Errorf("%w: store is required", ErrNotConfigured)
	}

	s.logger.Info(ctx, "starting telemetry service...")

	p, err := s.loadPipeline(ctx)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	s.pipeline = p
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.pipeline,
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	// Workers outlive the start request.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "telemetry service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Bool("modelAvailable", p.ModelAvailable()),
	)
	return nil
}

// Stop drains queued readings and stops the workers.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping telemetry service...")

	var err error
	if s.pool != nil {
		if err = s.pool.Shutdown(ctx); err != nil {
			s.pool.Stop()
		}
	}
	s.started = false
	s.logger.Info(ctx, "telemetry service stopped")
	return err
}

// Pipeline returns the running pipeline, or nil before Start.
func (s *Service) Pipeline() *pipeline.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

func (s *Service) running() (*pipeline.Pipeline, eventqueue.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.pipeline, s.queue, nil
}

// IngestResult reports what an ingestion request did.
type IngestResult struct {
	Inserted int                `json:"inserted"`
	Queued   bool               `json:"queued"`
	Results  []*pipeline.Result `json:"results,omitempty"`
}

// Ingest stores every record as telemetry and runs the pipeline for each
// reading, in order. With async set, readings are queued for the workers
// instead and no results are returned. A bad record rejects the whole batch
// before anything is stored.
func (s *Service) Ingest(ctx context.Context, records []map[string]any, format string, async bool) (*IngestResult, error) {
	p, q, err := s.running()
	if err != nil {
		return nil, err
	}
	readings, err := ingest.Readings(records)
	if err != nil {
		metrics.RecordTelemetryRejected("invalid_record")
		return nil, err
	}
	// Slots are held before anything is stored so a refused batch leaves no
	// telemetry behind.
	var slots *eventqueue.Reservation
	if async {
		slots, err = q.Reserve(len(readings))
		if errors.Is(err, eventqueue.ErrQueueFull) {
			metrics.RecordTelemetryRejected("queue_full")
			return nil, ErrQueueFull
		}
		if err != nil {
			return nil, fmt.Errorf("reserve queue slots: %w", err)
		}
		defer slots.Release()
	}

	now := s.now()
	docs := make([]any, len(readings))
	for i := range readings {
		docs[i] = readings[i].Document(now)
	}
	if err := repository.InsertAll(ctx, s.store, model.CollectionTelemetry, docs); err != nil {
		return nil, fmt.Errorf("store telemetry: %w", err)
	}
	for range readings {
		metrics.RecordTelemetryIngested(format)
	}

	res := &IngestResult{Inserted: len(readings), Queued: async}
	if async {
		for i := range readings {
			if err := slots.Enqueue(eventqueue.Job{Reading: readings[i]}); err != nil {
				// Only a closing queue refuses a held slot. The rest of the
				// batch is already stored, so it runs inline.
				s.logger.Warn(ctx, "queue refused reserved reading; processing inline",
					logger.Int("index", i), logger.Int("batch", len(readings)), logger.Error(err))
				res.Queued = false
				return res, s.processInline(ctx, p, readings[i:], res)
			}
		}
		return res, nil
	}

	if err := s.processInline(ctx, p, readings, res); err != nil {
		return nil, err
	}
	return res, nil
}

// processInline runs the pipeline for each reading in order, appending results.
func (s *Service) processInline(ctx context.Context, p *pipeline.Pipeline, readings []model.Reading, res *IngestResult) error {
	for i := range readings {
		r, err := p.Process(ctx, readings[i])
		if err != nil {
			return fmt.Errorf("process reading %d: %w", i, err)
		}
		res.Results = append(res.Results, r)
	}
	return nil
}

// Predict runs the pipeline for one payload without storing it as telemetry.
// A missing timestamp defaults to now.
func (s *Service) Predict(ctx context.Context, raw map[string]any) (*pipeline.Result, error) {
	p, _, err := s.running()
	if err != nil {
		return nil, err
	}
	r, err := ingest.Normalize(raw)
	if err != nil {
		metrics.RecordTelemetryRejected("invalid_record")
		return nil, err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	if r.Source == "" {
		r.Source = SourcePredict
	}
	return p.Process(ctx, r)
}

// ReprocessSummary reports a reprocessing pass over stored telemetry.
type ReprocessSummary struct {
	Readings int `json:"readings"`
	Alerts   int `json:"alerts"`
	Runs     int `json:"runs"`
	Failed   int `json:"failed"`
}

// Reprocess re-runs the rule stage, or the full pipeline when full is set,
// over the newest limit stored telemetry documents. Documents that cannot be
// read back are skipped and counted as failed.
func (s *Service) Reprocess(ctx context.Context, limit int, full bool) (*ReprocessSummary, error) {
	p, _, err := s.running()
	if err != nil {
		return nil, err
	}
	docs, err := s.store.FindMany(ctx, model.CollectionTelemetry, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("load telemetry: %w", err)
	}

	sum := &ReprocessSummary{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Readings++
		r, err := ingest.Normalize(doc)
		if err != nil {
			sum.Failed++
			s.logger.Warn(ctx, "skipping stored telemetry", logger.Any("id", doc["id"]), logger.Error(err))
			continue
		}
		if full {
			res, err := p.Process(ctx, r)
			if err != nil {
				sum.Failed++
				s.logger.Error(ctx, "reprocess run failed", logger.String("vehicleId", r.VehicleID), logger.Error(err))
				continue
			}
			sum.Runs++
			sum.Alerts += len(res.Alerts)
			continue
		}
		alerts, err := p.ReprocessRules(ctx, r)
		sum.Alerts += len(alerts)
		if err != nil {
			sum.Failed++
			s.logger.Error(ctx, "reprocess rules failed", logger.String("vehicleId", r.VehicleID), logger.Error(err))
		}
	}
	return sum, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}
	if s.started {
		queueLen := s.queue.Len()
		stats["queueLength"] = queueLen
		stats["uptimeSeconds"] = int64(s.now().Sub(s.startedAt).Seconds())
		stats["modelAvailable"] = s.pipeline.ModelAvailable()
		stats["featureSchema"] = s.pipeline.FeatureSchema()
		stats["jobs"] = s.pool.Stats()

		metrics.UpdateQueueState(queueLen, s.queue.Capacity())
	}
	return stats
}
