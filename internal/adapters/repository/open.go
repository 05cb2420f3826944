package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/fleetguard/internal/domain/model"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Collections is every collection the pipeline writes.
var Collections = []string{
	model.CollectionTelemetry, model.CollectionAlerts, model.CollectionPredictions,
	model.CollectionDiagnostics, model.CollectionRiskLogs, model.CollectionRecommendations,
	model.CollectionMaintenance, model.CollectionFeedback, model.CollectionActions,
	model.CollectionTimeline, model.CollectionVehicles,
}

// Config selects and configures a backend.
type Config struct {
	Driver           string
	MongoURI         string
	MongoDatabase    string
	PostgresDSN      string
	PostgresMaxConns int32
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
}

// Handle is an opened store plus the function that releases it.
type Handle struct {
	Store Store
	Close func(ctx context.Context) error
}

// Open builds the configured backend, prepares its schema, and layers the
// Redis mirror and metrics on top.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	var (
		base    Store
		closers []func(context.Context) error
	)
	switch cfg.Driver {
	case "", DriverMemory:
		base = NewMemoryStore()
	case DriverMongo:
		ms, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := ms.EnsureIndexes(ctx, Collections); err != nil {
			_ = ms.Close(ctx)
			return nil, err
		}
		base, closers = ms, append(closers, ms.Close)
	case DriverPostgres:
		ps, err := NewPostgresStore(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		if err := ps.EnsureSchema(ctx); err != nil {
			_ = ps.Close(ctx)
			return nil, err
		}
		base, closers = ps, append(closers, ps.Close)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	if cfg.RedisAddr != "" {
		client, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			for _, c := range closers {
				_ = c(ctx)
			}
			return nil, err
		}
		base = NewRedisMirror(base, client)
		closers = append(closers, closeRedis(client))
	}

	return &Handle{
		Store: Instrument(base),
		Close: func(ctx context.Context) error {
			var first error
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i](ctx); err != nil && first == nil {
					first = err
				}
			}
			return first
		},
	}, nil
}

func closeRedis(c *redis.Client) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
