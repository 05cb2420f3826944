// Command reprocess re-runs stored telemetry through the rule stage, or the
// full pipeline with -full. With -sync-vehicles it instead registers every
// vehicle seen in telemetry that has no vehicles record.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/okian/fleetguard/internal/app"
	"github.com/okian/fleetguard/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	limit := flag.Int("limit", 1000, "newest telemetry readings to reprocess")
	full := flag.Bool("full", false, "run every stage instead of the rules only")
	syncVehicles := flag.Bool("sync-vehicles", false, "register vehicles seen in telemetry instead of reprocessing")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *limit, *full, *syncVehicles); err != nil {
		fmt.Fprintf(os.Stderr, "reprocess: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, limit int, full, syncVehicles bool) error {
	rt, err := app.Bootstrap(ctx)
	if err != nil {
		return err
	}
	log := rt.Logger.Named("reprocess")
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			log.Error(closeCtx, "store close failed", logger.Error(err))
		}
	}()

	// Reprocessing runs inline; one worker is enough for the idle pool.
	svc := app.New(rt.Store, append(rt.Options(), app.WithWorkerCount(1))...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = svc.Stop(stopCtx)
	}()

	started := time.Now()
	if syncVehicles {
		sum, err := svc.SyncVehicles(ctx, limit)
		if err != nil {
			return err
		}
		log.Info(ctx, "vehicle sync complete",
			logger.Int("scanned", sum.Scanned),
			logger.Int("vehicles", sum.Vehicles),
			logger.Int("created", sum.Created),
			logger.Int("existing", sum.Existing),
			logger.Duration("took", time.Since(started)),
		)
		return nil
	}

	sum, err := svc.Reprocess(ctx, limit, full)
	if err != nil {
		return err
	}
	log.Info(ctx, "reprocess complete",
		logger.Int("readings", sum.Readings),
		logger.Int("alerts", sum.Alerts),
		logger.Int("runs", sum.Runs),
		logger.Int("failed", sum.Failed),
		logger.Bool("full", full),
		logger.Duration("took", time.Since(started)),
	)
	return nil
}
