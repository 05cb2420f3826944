package service

import (
	"time"

	"github.com/okian/fleetguard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of pipeline workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of readings waiting for a worker.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithModelPath sets the classifier artifact loaded at start.
func WithModelPath(path string) Option {
	return func(s *Service) {
		s.modelPath = path
	}
}

// WithMediansPath sets the saved feature mapping loaded at start.
func WithMediansPath(path string) Option {
	return func(s *Service) {
		s.mediansPath = path
	}
}

// WithMedianSampleSize bounds how many recent telemetry documents medians are learned from.
func WithMedianSampleSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.medianSampleSize = n
		}
	}
}

// WithMaxListLimit caps the number of documents a list query returns.
func WithMaxListLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxListLimit = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock used for defaulted timestamps and pipeline stages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
