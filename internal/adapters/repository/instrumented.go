package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/fleetguard/pkg/metrics"
)

// Instrumented records latency and failures of every call on the wrapped store.
type Instrumented struct {
	inner Store
}

// Instrument wraps s with store metrics.
func Instrument(s Store) *Instrumented {
	return &Instrumented{inner: s}
}

// Unwrap returns the wrapped store.
func (i *Instrumented) Unwrap() Store { return i.inner }

func observe(op, collection string, start time.Time, err error) {
	failed := err != nil && !errors.Is(err, ErrNotFound)
	metrics.RecordStoreOperation(op, collection, float64(time.Since(start).Microseconds())/1000, failed)
}

func (i *Instrumented) Insert(ctx context.Context, collection string, record any) (err error) {
	defer func(start time.Time) { observe("insert", collection, start, err) }(time.Now())
	return i.inner.Insert(ctx, collection, record)
}

func (i *Instrumented) InsertMany(ctx context.Context, collection string, records []any) (err error) {
	defer func(start time.Time) { observe("insert_many", collection, start, err) }(time.Now())
	return InsertAll(ctx, i.inner, collection, records)
}

func (i *Instrumented) FindLatest(ctx context.Context, collection string, filter Filter, sortKey string) (doc Document, err error) {
	defer func(start time.Time) { observe("find_latest", collection, start, err) }(time.Now())
	return i.inner.FindLatest(ctx, collection, filter, sortKey)
}

func (i *Instrumented) FindMany(ctx context.Context, collection string, filter Filter, limit int) (docs []Document, err error) {
	defer func(start time.Time) { observe("find_many", collection, start, err) }(time.Now())
	return i.inner.FindMany(ctx, collection, filter, limit)
}

func (i *Instrumented) Upsert(ctx context.Context, collection string, filter Filter, patch any) (err error) {
	defer func(start time.Time) { observe("upsert", collection, start, err) }(time.Now())
	return i.inner.Upsert(ctx, collection, filter, patch)
}

func (i *Instrumented) Delete(ctx context.Context, collection string, filter Filter) (n int, err error) {
	defer func(start time.Time) { observe("delete", collection, start, err) }(time.Now())
	return Delete(ctx, i.inner, collection, filter)
}
