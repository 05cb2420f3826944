package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/fleetguard/internal/adapters/ingest"
	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/logger"
)

// Sources and timeline identity of registry writes.
const (
	SourceVehicleAPI    = "vehicle_api"
	SourceTelemetrySync = "telemetry_sync"

	registryAgent = "registry"
)

// SyncSummary reports a registry sync pass over stored telemetry.
type SyncSummary struct {
	Scanned  int `json:"scanned"`
	Vehicles int `json:"vehicles"`
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

func vehicleFilter(id string) repository.Filter {
	return repository.Filter{"vehicleId": id}
}

// vehicleRecord returns the vehicles document of id, or repository.ErrNotFound.
func (s *Service) vehicleRecord(ctx context.Context, id string) (repository.Document, error) {
	return s.store.FindLatest(ctx, model.CollectionVehicles, vehicleFilter(id), "")
}

// log returns the service logger, which Start or WithLogger sets.
func (s *Service) log() logger.Logger {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()
	if l == nil {
		return logger.Get().Named("service")
	}
	return l
}

// RegisterVehicle creates the vehicles record for payload["vehicleId"]. Other
// payload fields are kept as vehicle attributes. An existing record is
// reported as ErrVehicleExists.
func (s *Service) RegisterVehicle(ctx context.Context, payload map[string]any) (repository.Document, error) {
	id, ok := ingest.VehicleID(payload["vehicleId"])
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVehicle, &model.MissingFieldError{Field: "vehicleId"})
	}
	return s.register(ctx, id, payload, SourceVehicleAPI)
}

func (s *Service) register(ctx context.Context, id string, attrs map[string]any, source string) (repository.Document, error) {
	_, err := s.vehicleRecord(ctx, id)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrVehicleExists, id)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find vehicle: %w", err)
	}

	now := model.FormatTime(s.now())
	doc := make(repository.Document, len(attrs)+4)
	for k, v := range attrs {
		doc[k] = v
	}
	doc["vehicleId"] = id
	doc["registeredAt"] = now
	doc["timestamp"] = now
	if src, ok := doc["source"].(string); !ok || src == "" {
		doc["source"] = source
	}
	if err := s.store.Upsert(ctx, model.CollectionVehicles, vehicleFilter(id), doc); err != nil {
		return nil, fmt.Errorf("store vehicle: %w", err)
	}
	return doc, nil
}

// UpdateVehicle merges updates into an existing vehicles record and returns
// the result. The identifier cannot be changed.
func (s *Service) UpdateVehicle(ctx context.Context, vehicleID string, updates map[string]any) (repository.Document, error) {
	patch := make(map[string]any, len(updates))
	for k, v := range updates {
		if k != "vehicleId" {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidVehicle)
	}
	if _, err := s.vehicleRecord(ctx, vehicleID); err != nil {
		return nil, fmt.Errorf("find vehicle: %w", err)
	}
	if err := s.store.Upsert(ctx, model.CollectionVehicles, vehicleFilter(vehicleID), patch); err != nil {
		return nil, fmt.Errorf("update vehicle: %w", err)
	}
	doc, err := s.vehicleRecord(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("reload vehicle: %w", err)
	}
	return doc, nil
}

// DeleteVehicle removes the vehicles record. Decision history is kept.
func (s *Service) DeleteVehicle(ctx context.Context, vehicleID string) error {
	n, err := repository.Delete(ctx, s.store, model.CollectionVehicles, vehicleFilter(vehicleID))
	if err != nil {
		return fmt.Errorf("delete vehicle: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("vehicle %s: %w", vehicleID, repository.ErrNotFound)
	}
	return nil
}

// SyncVehicles registers every vehicle seen in the newest limit telemetry
// documents (all when limit is 0) that has no vehicles record, and notes the
// registration on its timeline.
func (s *Service) SyncVehicles(ctx context.Context, limit int) (*SyncSummary, error) {
	docs, err := s.store.FindMany(ctx, model.CollectionTelemetry, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("load telemetry: %w", err)
	}

	sum := &SyncSummary{Scanned: len(docs)}
	seen := make(map[string]struct{})
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		id, ok := ingest.VehicleID(doc["vehicleId"])
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sum.Vehicles++

		_, err := s.register(ctx, id, nil, SourceTelemetrySync)
		if errors.Is(err, ErrVehicleExists) {
			sum.Existing++
			continue
		}
		if err != nil {
			return sum, err
		}
		sum.Created++
		entry := model.TimelineEntry{
			Header: model.Header{
				ID:        uuid.NewString(),
				VehicleID: id,
				Timestamp: model.FormatTime(s.now()),
				Source:    SourceTelemetrySync,
			},
			Agent:    registryAgent,
			Decision: "Vehicle registered from telemetry sync",
		}
		if err := s.store.Insert(ctx, model.CollectionTimeline, entry); err != nil {
			return sum, fmt.Errorf("store timeline: %w", err)
		}
	}
	s.log().Info(ctx, "vehicle registry synced",
		logger.Int("scanned", sum.Scanned),
		logger.Int("created", sum.Created),
		logger.Int("existing", sum.Existing))
	return sum, nil
}
