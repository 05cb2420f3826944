package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fleetguard/pkg/logger"
)

// ErrInconsistent reports fleet views that disagree with what was submitted.
var ErrInconsistent = errors.New("fleet views inconsistent")

const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

// Run checks health, submits generated telemetry concurrently, then verifies
// the fleet views.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("loadgen")
	stats := &Stats{StartTime: time.Now()}
	c := newClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("vehicles", cfg.Vehicles),
		logger.Int("readings", cfg.Readings),
		logger.Int("workers", cfg.Workers),
		logger.Bool("async", cfg.Async),
	)

	if err := c.get(ctx, "/healthz", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	batches := Generate(cfg, time.Now().UTC())
	stats.Generated = cfg.Vehicles * cfg.Readings
	if cfg.OutputFile != "" {
		if err := save(cfg.OutputFile, batches); err != nil {
			log.Warn(ctx, "failed to save readings", logger.Error(err))
		}
	}

	if err := submit(ctx, c, cfg, batches, stats); err != nil {
		return stats, fmt.Errorf("submission failed: %w", err)
	}

	if cfg.Async && cfg.Settle > 0 {
		log.Info(ctx, "waiting for queued readings", logger.Duration("settle", cfg.Settle))
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(cfg.Settle):
		}
	}

	verr := verify(ctx, c, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	log.Info(ctx, "load run finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("backpressured", stats.Backpressured),
		logger.Int("failed", stats.Failed),
		logger.Int("vehicles", stats.Vehicles),
		logger.Int("highRisk", stats.HighRisk),
		logger.Duration("duration", stats.Duration),
	)
	return stats, verr
}

// submit posts one batch per vehicle with at most cfg.Workers in flight.
// Backpressure and server errors are counted, not returned.
func submit(ctx context.Context, c *client, cfg *Config, batches []Batch, stats *Stats) error {
	path := "/telemetry/ingest"
	if cfg.Async {
		path += "?async=true"
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var accepted, backpressured, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, b := range batches {
		g.Go(func() error {
			status, err := c.post(gctx, path, b.Readings)
			n := int64(len(b.Readings))
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				atomic.AddInt64(&failed, n)
				if cfg.Verbose {
					logger.Get().Warn(gctx, "submit failed", logger.String("vehicleId", b.VehicleID), logger.Error(err))
				}
			case status == http.StatusOK || status == http.StatusAccepted:
				atomic.AddInt64(&accepted, n)
			case status == http.StatusTooManyRequests:
				atomic.AddInt64(&backpressured, n)
			default:
				atomic.AddInt64(&failed, n)
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Accepted = int(accepted)
	stats.Backpressured = int(backpressured)
	stats.Failed = int(failed)
	stats.Submitted = stats.Accepted + stats.Backpressured + stats.Failed
	return err
}

// verify reads the fleet views and checks they agree with each other.
func verify(ctx context.Context, c *client, stats *Stats) error {
	var ov overview
	if err := c.get(ctx, "/fleet/overview", &ov); err != nil {
		return err
	}
	var list vehicleList
	if err := c.get(ctx, "/vehicles/list", &list); err != nil {
		return err
	}
	var top []riskEntry
	if err := c.get(ctx, "/fleet/top-risk", &top); err != nil {
		return err
	}
	stats.Vehicles = list.Count
	stats.HighRisk = ov.HighRisk
	stats.TopRisk = len(top)

	if list.Count != len(list.Vehicles) {
		return fmt.Errorf("%w: vehicle list count %d for %d ids", ErrInconsistent, list.Count, len(list.Vehicles))
	}
	if ov.AvgFailureProbability < 0 || ov.AvgFailureProbability > 1 {
		return fmt.Errorf("%w: average failure probability %.3f", ErrInconsistent, ov.AvgFailureProbability)
	}
	for i := 1; i < len(top); i++ {
		if top[i].RiskScore > top[i-1].RiskScore {
			return fmt.Errorf("%w: top-risk entry %d scores above entry %d", ErrInconsistent, i, i-1)
		}
	}
	return nil
}

func save(path string, batches []Batch) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	var all []map[string]any
	for _, b := range batches {
		all = append(all, b.Readings...)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal readings: %w", err)
	}
	return os.WriteFile(path, data, filePermission)
}
