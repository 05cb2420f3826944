package service

import (
	"context"
	"fmt"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/classifier"
	"github.com/okian/fleetguard/internal/domain/features"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/internal/domain/pipeline"
	"github.com/okian/fleetguard/pkg/logger"
)

// loadPipeline resolves the model and feature mapping and builds the pipeline.
// A model that fails to load leaves predictions degraded instead of failing start.
func (s *Service) loadPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	m := classifier.NewModel(nil)
	if s.modelPath != "" {
		clf, err := classifier.LoadFile(s.modelPath)
		if err != nil {
			s.logger.Warn(ctx, "model unavailable, predictions will be degraded",
				logger.String("path", s.modelPath), logger.Error(err))
		} else {
			m = classifier.NewModel(clf)
			s.logger.Info(ctx, "model loaded",
				logger.String("path", s.modelPath), logger.Int("features", len(m.FeatureNames())))
		}
	}

	b, err := s.loadFeatures(ctx, m.FeatureNames())
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "feature mapping ready", logger.Any("schema", b.Schema()))

	return pipeline.New(s.store,
		pipeline.WithModel(m),
		pipeline.WithFeatureBuilder(b),
		pipeline.WithClock(s.now),
		pipeline.WithLogger(s.logger.Named("pipeline")),
	)
}

// loadFeatures picks the feature order from the model, then the saved mapping,
// then the stored telemetry. Medians come from the saved mapping when present,
// otherwise they are learned from recent telemetry.
func (s *Service) loadFeatures(ctx context.Context, schema []string) (*features.Builder, error) {
	if s.mediansPath != "" {
		b, err := features.LoadFile(s.mediansPath)
		if err == nil {
			if len(schema) > 0 {
				return b.WithSchema(schema), nil
			}
			return b, nil
		}
		s.logger.Warn(ctx, "feature mapping unreadable, learning medians from telemetry",
			logger.String("path", s.mediansPath), logger.Error(err))
	}
	return FitFeatures(ctx, s.store, schema, s.medianSampleSize)
}

// FitFeatures learns medians from the n most recent telemetry documents. An
// empty schema is detected from the numeric fields of the sample.
func FitFeatures(ctx context.Context, store repository.Store, schema []string, n int) (*features.Builder, error) {
	docs, err := store.FindMany(ctx, model.CollectionTelemetry, nil, n)
	if err != nil {
		return nil, fmt.Errorf("sample telemetry: %w", err)
	}
	samples := make([]map[string]any, len(docs))
	for i, d := range docs {
		samples[i] = d
	}
	return features.Fit(schema, samples), nil
}
