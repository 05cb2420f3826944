package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/config"
	"github.com/okian/fleetguard/pkg/logger"
)

// Runtime is the process setup shared by every binary: environment,
// configuration, logging and the opened store.
type Runtime struct {
	Config *config.Config
	Store  repository.Store
	Logger logger.Logger

	closeStore func(context.Context) error
}

// Bootstrap loads .env when present, then configuration, applies the log
// settings and opens the configured store.
func Bootstrap(ctx context.Context) (*Runtime, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Get()
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		log.Warn(ctx, "invalid log_format; keeping text", logger.String("log_format", cfg.LogFormat), logger.Error(err))
	}
	log = logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	h, err := repository.Open(ctx, StoreConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	log.Info(ctx, "store opened",
		logger.String("driver", cfg.StoreDriver),
		logger.Bool("redisMirror", cfg.RedisAddr != ""),
	)
	return &Runtime{Config: cfg, Store: h.Store, Logger: log, closeStore: h.Close}, nil
}

// StoreConfig selects the repository backend described by cfg.
func StoreConfig(cfg *config.Config) repository.Config {
	return repository.Config{
		Driver:           cfg.StoreDriver,
		MongoURI:         cfg.MongoURI,
		MongoDatabase:    cfg.MongoDB,
		PostgresDSN:      cfg.PostgresDSN,
		PostgresMaxConns: cfg.PostgresMaxConns,
		RedisAddr:        cfg.RedisAddr,
		RedisPassword:    cfg.RedisPassword,
		RedisDB:          cfg.RedisDB,
	}
}

// Options maps the configuration onto service options.
func (rt *Runtime) Options() []Option {
	c := rt.Config
	return []Option{
		WithLogger(rt.Logger.Named("service")),
		WithWorkerCount(c.WorkerCount),
		WithQueueSize(c.QueueSize),
		WithModelPath(c.ModelPath),
		WithMediansPath(c.MediansPath),
		WithMedianSampleSize(c.MedianSampleSize),
		WithMaxListLimit(c.MaxListLimit),
	}
}

// Close releases the store.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.closeStore == nil {
		return nil
	}
	return rt.closeStore(ctx)
}
