// Command loadgen submits synthetic telemetry to a running fleetguard server
// and verifies the fleet views afterwards.
package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/fleetguard/internal/loadgen"
	"github.com/okian/fleetguard/pkg/logger"
)

// Default configuration constants.
const (
	defaultVehicles    = 200
	defaultReadings    = 20
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultSettle      = 5 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "Base URL of the service")
		vehicles = flag.Int("vehicles", defaultVehicles, "Number of synthetic vehicles")
		readings = flag.Int("readings", defaultReadings, "Readings per vehicle")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		async    = flag.Bool("async", false, "Queue readings instead of processing them inline")
		settle   = flag.Duration("settle", defaultSettle, "Wait before verification when -async is set")
		seed     = flag.Uint64("seed", 0, "Generator seed (0 picks one)")
		output   = flag.String("output", "", "Optional file for the generated readings")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:    *baseURL,
		Vehicles:   *vehicles,
		Readings:   *readings,
		Workers:    *workers,
		Timeout:    *timeout,
		Async:      *async,
		Settle:     *settle,
		Seed:       *seed,
		OutputFile: *output,
		Verbose:    *verbose,
	}
	if _, err := loadgen.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
