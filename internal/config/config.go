// Package config defines service configuration and its layered loading.
package config

import (
	"context"
	"runtime"
)

// Store drivers understood by StoreDriver.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory telemetry queue used for async ingestion.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of pipeline workers draining the queue.
	WorkerCount int `koanf:"worker_count"`

	// StoreDriver picks the document store: memory, mongo or postgres.
	StoreDriver string `koanf:"store_driver"`
	MongoURI    string `koanf:"mongo_uri"`
	MongoDB     string `koanf:"mongo_db"`
	PostgresDSN string `koanf:"postgres_dsn"`
	// PostgresMaxConns caps the pgx pool size; 0 keeps the driver default.
	PostgresMaxConns int32 `koanf:"postgres_max_conns"`

	// RedisAddr enables the health cache mirror when set.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// ModelPath points at the classifier JSON artifact. Empty runs without a model.
	ModelPath string `koanf:"model_path"`
	// MediansPath points at the saved feature mapping.
	MediansPath string `koanf:"medians_path"`
	// MedianSampleSize bounds the history used to learn medians.
	MedianSampleSize int `koanf:"median_sample_size"`

	// MaxListLimit caps list endpoints.
	MaxListLimit int `koanf:"max_list_limit"`
}

// New returns a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":8080",
		QueueSize:        10_000,
		WorkerCount:      runtime.NumCPU() * 2,
		StoreDriver:      DriverMemory,
		MongoDB:          "fleet",
		MedianSampleSize: 500,
		MaxListLimit:     100,
	}
}
