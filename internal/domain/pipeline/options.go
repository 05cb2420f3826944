package pipeline

import (
	"time"

	"github.com/okian/fleetguard/internal/domain/classifier"
	"github.com/okian/fleetguard/internal/domain/features"
	"github.com/okian/fleetguard/pkg/logger"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithModel sets the classifier used by the prediction stage.
func WithModel(m *classifier.Model) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.model = m
		}
	}
}

// WithFeatureBuilder sets the feature mapping. Without one the model's own
// feature names are used with zero medians.
func WithFeatureBuilder(b *features.Builder) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.builder = b
		}
	}
}

// WithClock overrides the stage clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator overrides record and run id generation.
func WithIDGenerator(gen func() string) Option {
	return func(p *Pipeline) {
		if gen != nil {
			p.newID = gen
		}
	}
}
