package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/fleetguard/internal/adapters/ingest"
	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/model"
)

// Default list sizes.
const (
	defaultAlertLimit          = 100
	defaultTimelineLimit       = 100
	defaultRecommendationLimit = 50
	defaultActionLimit         = 50
	fleetSampleSize            = 200
	topRiskCount               = 10
)

// FleetOverview summarizes the fleet.
type FleetOverview struct {
	TotalVehicles         int     `json:"totalVehicles"`
	HighRisk              int     `json:"highRisk"`
	AvgFailureProbability float64 `json:"avgFailureProbability"`
}

func (s *Service) limit(requested, def int) int {
	if requested <= 0 {
		requested = def
	}
	if s.maxListLimit > 0 && requested > s.maxListLimit {
		return s.maxListLimit
	}
	return requested
}

func latest[T any](ctx context.Context, store repository.Store, collection, vehicleID string) (*T, error) {
	doc, err := store.FindLatest(ctx, collection, repository.Filter{"vehicleId": vehicleID}, repository.DefaultSortKey)
	if err != nil {
		return nil, err
	}
	var out T
	if err := repository.Decode(doc, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return &out, nil
}

func many[T any](ctx context.Context, store repository.Store, collection string, filter repository.Filter, limit int) ([]T, error) {
	docs, err := store.FindMany(ctx, collection, filter, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(docs))
	for i, d := range docs {
		if err := repository.Decode(d, &out[i]); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
	}
	return out, nil
}

// LatestTelemetry returns the newest stored reading of a vehicle as stored.
func (s *Service) LatestTelemetry(ctx context.Context, vehicleID string) (repository.Document, error) {
	return s.store.FindLatest(ctx, model.CollectionTelemetry, repository.Filter{"vehicleId": vehicleID}, repository.DefaultSortKey)
}

// LatestPrediction returns the newest prediction of a vehicle.
func (s *Service) LatestPrediction(ctx context.Context, vehicleID string) (*model.Prediction, error) {
	return latest[model.Prediction](ctx, s.store, model.CollectionPredictions, vehicleID)
}

// LatestRisk returns the newest risk assessment of a vehicle.
func (s *Service) LatestRisk(ctx context.Context, vehicleID string) (*model.RiskAssessment, error) {
	return latest[model.RiskAssessment](ctx, s.store, model.CollectionRiskLogs, vehicleID)
}

// VehicleHealth returns the current health record of a vehicle.
func (s *Service) VehicleHealth(ctx context.Context, vehicleID string) (*model.VehicleHealth, error) {
	return latest[model.VehicleHealth](ctx, s.store, model.CollectionVehicles, vehicleID)
}

// Recommendations returns the newest maintenance recommendations of a vehicle.
func (s *Service) Recommendations(ctx context.Context, vehicleID string, limit int) ([]model.Recommendation, error) {
	return many[model.Recommendation](ctx, s.store, model.CollectionRecommendations,
		repository.Filter{"vehicleId": vehicleID}, s.limit(limit, defaultRecommendationLimit))
}

// Alerts returns the newest alerts across the fleet.
func (s *Service) Alerts(ctx context.Context, limit int) ([]model.Alert, error) {
	return many[model.Alert](ctx, s.store, model.CollectionAlerts, nil, s.limit(limit, defaultAlertLimit))
}

// Timeline returns the newest stage decisions of a vehicle.
func (s *Service) Timeline(ctx context.Context, vehicleID string, limit int) ([]model.TimelineEntry, error) {
	return many[model.TimelineEntry](ctx, s.store, model.CollectionTimeline,
		repository.Filter{"vehicleId": vehicleID}, s.limit(limit, defaultTimelineLimit))
}

// AgentActions returns the newest audit actions across the fleet.
func (s *Service) AgentActions(ctx context.Context, limit int) ([]model.AuditAction, error) {
	return many[model.AuditAction](ctx, s.store, model.CollectionActions, nil, s.limit(limit, defaultActionLimit))
}

// Vehicles lists the ids of every vehicle with a health record, sorted.
func (s *Service) Vehicles(ctx context.Context) ([]string, error) {
	docs, err := s.store.FindMany(ctx, model.CollectionVehicles, nil, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if id, ok := d["vehicleId"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FleetOverview counts vehicles, high risk assessments among the newest 200,
// and the mean probability of the newest 200 predictions, rounded to 3 places.
func (s *Service) FleetOverview(ctx context.Context) (*FleetOverview, error) {
	ids, err := s.Vehicles(ctx)
	if err != nil {
		return nil, err
	}
	risks, err := many[model.RiskAssessment](ctx, s.store, model.CollectionRiskLogs, nil, fleetSampleSize)
	if err != nil {
		return nil, err
	}
	preds, err := many[model.Prediction](ctx, s.store, model.CollectionPredictions, nil, fleetSampleSize)
	if err != nil {
		return nil, err
	}

	out := &FleetOverview{TotalVehicles: len(ids)}
	for i := range risks {
		if risks[i].Category == model.RiskHigh {
			out.HighRisk++
		}
	}
	if len(preds) > 0 {
		var sum float64
		for i := range preds {
			sum += preds[i].Probability
		}
		out.AvgFailureProbability = math.Round(sum/float64(len(preds))*1000) / 1000
	}
	return out, nil
}

// TopRisk returns the ten highest scored assessments among the newest 200.
func (s *Service) TopRisk(ctx context.Context) ([]model.RiskAssessment, error) {
	risks, err := many[model.RiskAssessment](ctx, s.store, model.CollectionRiskLogs, nil, fleetSampleSize)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(risks, func(i, j int) bool { return risks[i].RiskScore > risks[j].RiskScore })
	if len(risks) > topRiskCount {
		risks = risks[:topRiskCount]
	}
	return risks, nil
}

// SubmitFeedback stores a driver or technician response as-is, stamped with
// an id, a timestamp (now when absent) and a source (user_feedback when absent).
func (s *Service) SubmitFeedback(ctx context.Context, payload map[string]any) (repository.Document, error) {
	id, ok := ingest.VehicleID(payload["vehicleId"])
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeedback, &model.MissingFieldError{Field: "vehicleId"})
	}
	doc := make(repository.Document, len(payload)+3)
	for k, v := range payload {
		doc[k] = v
	}
	doc["id"] = uuid.NewString()
	doc["vehicleId"] = id

	doc["timestamp"] = model.FormatTime(s.now())
	if ts, ok := payload["timestamp"].(string); ok && strings.TrimSpace(ts) != "" {
		t, err := model.ParseTime(strings.TrimSpace(ts))
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q: %w", ErrInvalidFeedback, ts, err)
		}
		doc["timestamp"] = model.FormatTime(t)
	}
	if src, ok := payload["source"].(string); !ok || src == "" {
		doc["source"] = SourceFeedback
	}

	if err := s.store.Insert(ctx, model.CollectionFeedback, doc); err != nil {
		return nil, fmt.Errorf("store feedback: %w", err)
	}
	return doc, nil
}
