// Command featurefit computes per-feature medians from stored telemetry and
// writes the mapping file the service loads at startup.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/okian/fleetguard/internal/app"
	"github.com/okian/fleetguard/internal/domain/classifier"
	"github.com/okian/fleetguard/pkg/logger"
)

const closeTimeout = 10 * time.Second

func main() {
	out := flag.String("out", "", "mapping file to write (defaults to medians_path)")
	n := flag.Int("n", 0, "newest telemetry readings to sample (defaults to median_sample_size)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *out, *n); err != nil {
		fmt.Fprintf(os.Stderr, "featurefit: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out string, n int) error {
	rt, err := app.Bootstrap(ctx)
	if err != nil {
		return err
	}
	log := rt.Logger.Named("featurefit")
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			log.Error(closeCtx, "store close failed", logger.Error(err))
		}
	}()

	if out == "" {
		out = rt.Config.MediansPath
	}
	if out == "" {
		return errors.New("no output path: set -out or medians_path")
	}
	if n <= 0 {
		n = rt.Config.MedianSampleSize
	}

	// The model's schema, when one is deployed, fixes the feature order.
	var schema []string
	if path := rt.Config.ModelPath; path != "" {
		clf, err := classifier.LoadFile(path)
		if err != nil {
			log.Warn(ctx, "model not loaded; detecting numeric columns", logger.String("path", path), logger.Error(err))
		} else {
			schema = clf.FeatureNames()
		}
	}

	b, err := app.FitFeatures(ctx, rt.Store, schema, n)
	if err != nil {
		return err
	}
	if err := b.SaveFile(out); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	log.Info(ctx, "feature medians written",
		logger.String("path", out),
		logger.Int("features", len(b.Schema())),
		logger.Int("sample", n),
	)
	return nil
}
