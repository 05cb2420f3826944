package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/okian/fleetguard/pkg/metrics"
)

// Default mirror configuration.
const (
	defaultHealthTTL   = 24 * time.Hour
	defaultRedisPrefix = "fleetguard"
)

// Collections the mirror reacts to.
const (
	mirrorAlerts   = model.CollectionAlerts
	mirrorVehicles = model.CollectionVehicles
)

// RedisMirror decorates a Store. Vehicle health upserts are copied into a
// per-vehicle hash and published; inserted alerts are published. The wrapped
// store stays authoritative: mirror failures are logged and counted, never returned.
// A vehicle whose hash could not be written or dropped is read from the wrapped
// store until a later mirror write succeeds.
type RedisMirror struct {
	Store
	client    redis.UniversalClient
	prefix    string
	healthTTL time.Duration
	logger    logger.Logger

	stale sync.Map // vehicleID -> struct{}
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisMirror wraps inner.
func NewRedisMirror(inner Store, client redis.UniversalClient, opts ...MirrorOption) *RedisMirror {
	m := &RedisMirror{
		Store:     inner,
		client:    client,
		prefix:    defaultRedisPrefix,
		healthTTL: defaultHealthTTL,
		logger:    logger.Get().Named("redis-mirror"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HealthKey is the hash holding the mirrored health of vehicleID.
func (m *RedisMirror) HealthKey(vehicleID string) string {
	return fmt.Sprintf("%s:vehicle:%s:health", m.prefix, vehicleID)
}

// AlertsChannel carries every inserted alert.
func (m *RedisMirror) AlertsChannel() string { return m.prefix + ":alerts" }

// HealthChannel carries every health upsert.
func (m *RedisMirror) HealthChannel() string { return m.prefix + ":health" }

func (m *RedisMirror) Insert(ctx context.Context, collection string, record any) error {
	if err := m.Store.Insert(ctx, collection, record); err != nil {
		return err
	}
	if collection == mirrorAlerts {
		m.publish(ctx, m.AlertsChannel(), record)
	}
	return nil
}

// InsertMany keeps the wrapped bulk path available through the mirror.
func (m *RedisMirror) InsertMany(ctx context.Context, collection string, records []any) error {
	if err := InsertAll(ctx, m.Store, collection, records); err != nil {
		return err
	}
	if collection == mirrorAlerts {
		for _, r := range records {
			m.publish(ctx, m.AlertsChannel(), r)
		}
	}
	return nil
}

func (m *RedisMirror) Upsert(ctx context.Context, collection string, filter Filter, patch any) error {
	if err := m.Store.Upsert(ctx, collection, filter, patch); err != nil {
		return err
	}
	vehicleID, _ := filter["vehicleId"].(string)
	if collection != mirrorVehicles || vehicleID == "" {
		return nil
	}
	// Mirror the merged record so fields set by earlier upserts survive.
	fields, err := m.Store.FindLatest(ctx, collection, filter, "")
	if err != nil {
		metrics.RecordCacheMirrorError("health")
		m.logger.Warn(ctx, "reading merged health for mirror failed", logger.String("vehicleId", vehicleID), logger.Error(err))
		m.drop(ctx, vehicleID)
		return nil
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	hash := map[string]any{"document": payload}
	if state, ok := fields["healthState"]; ok {
		hash["healthState"] = fmt.Sprint(state)
	}

	key := m.HealthKey(vehicleID)
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, hash)
	pipe.Expire(ctx, key, m.healthTTL)
	pipe.Publish(ctx, m.HealthChannel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordCacheMirrorError("health")
		m.logger.Warn(ctx, "redis health mirror failed", logger.String("vehicleId", vehicleID), logger.Error(err))
		m.drop(ctx, vehicleID)
		return nil
	}
	m.stale.Delete(vehicleID)
	return nil
}

// Delete removes documents from the wrapped store and drops the mirrored
// hash of a deleted vehicle.
func (m *RedisMirror) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	n, err := Delete(ctx, m.Store, collection, filter)
	if err != nil {
		return n, err
	}
	if vehicleID, _ := filter["vehicleId"].(string); collection == mirrorVehicles && vehicleID != "" {
		m.drop(ctx, vehicleID)
	}
	return n, nil
}

// drop removes the hash of vehicleID. When Redis refuses, the vehicle is
// read from the wrapped store until its next successful mirror write.
func (m *RedisMirror) drop(ctx context.Context, vehicleID string) {
	if err := m.client.Del(ctx, m.HealthKey(vehicleID)).Err(); err != nil {
		m.stale.Store(vehicleID, struct{}{})
		metrics.RecordCacheMirrorError("invalidate")
		m.logger.Warn(ctx, "redis health invalidation failed", logger.String("vehicleId", vehicleID), logger.Error(err))
		return
	}
	m.stale.Delete(vehicleID)
}

// FindLatest answers vehicle health lookups from the hash when present.
func (m *RedisMirror) FindLatest(ctx context.Context, collection string, filter Filter, sortKey string) (Document, error) {
	vehicleID, _ := filter["vehicleId"].(string)
	if collection != mirrorVehicles || vehicleID == "" || len(filter) != 1 {
		return m.Store.FindLatest(ctx, collection, filter, sortKey)
	}
	if _, stale := m.stale.Load(vehicleID); stale {
		return m.Store.FindLatest(ctx, collection, filter, sortKey)
	}
	vals, err := m.client.HGetAll(ctx, m.HealthKey(vehicleID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.RecordCacheMirrorError("read")
		m.logger.Warn(ctx, "redis health read failed", logger.String("vehicleId", vehicleID), logger.Error(err))
	}
	if len(vals) == 0 {
		return m.Store.FindLatest(ctx, collection, filter, sortKey)
	}
	var doc Document
	if err := json.Unmarshal([]byte(vals["document"]), &doc); err != nil {
		return m.Store.FindLatest(ctx, collection, filter, sortKey)
	}
	return doc, nil
}

func (m *RedisMirror) publish(ctx context.Context, channel string, record any) {
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := m.client.Publish(ctx, channel, payload).Err(); err != nil {
		metrics.RecordCacheMirrorError("publish")
		m.logger.Warn(ctx, "redis publish failed", logger.String("channel", channel), logger.Error(err))
	}
}
