// Package repository defines the document store port and its backends.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document is a stored record as a field map.
type Document map[string]any

// Filter is an exact-match predicate over top-level fields.
type Filter map[string]any

// DefaultSortKey orders FindMany results, newest first.
const DefaultSortKey = "timestamp"

// Store persists pipeline records. Every failure wraps ErrStorageUnavailable
// except lookups with no match, which return ErrNotFound.
type Store interface {
	// Insert appends record to collection.
	Insert(ctx context.Context, collection string, record any) error
	// FindLatest returns the matching document with the greatest sortKey.
	FindLatest(ctx context.Context, collection string, filter Filter, sortKey string) (Document, error)
	// FindMany returns up to limit matching documents, newest timestamp first.
	// A limit of 0 means no limit.
	FindMany(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error)
	// Upsert merges patch into the first document matching filter, or inserts filter+patch.
	Upsert(ctx context.Context, collection string, filter Filter, patch any) error
}

// Deleter is implemented by stores that can remove documents.
type Deleter interface {
	// Delete removes every document matching filter and returns how many went.
	Delete(ctx context.Context, collection string, filter Filter) (int, error)
}

// Delete removes matching documents from s. An empty filter is refused.
func Delete(ctx context.Context, s Store, collection string, filter Filter) (int, error) {
	if len(filter) == 0 {
		return 0, ErrEmptyFilter
	}
	d, ok := s.(Deleter)
	if !ok {
		return 0, ErrDeleteUnsupported
	}
	return d.Delete(ctx, collection, filter)
}

// BatchInserter is implemented by stores with a bulk write path.
type BatchInserter interface {
	InsertMany(ctx context.Context, collection string, records []any) error
}

// InsertAll uses the bulk path when s has one.
func InsertAll(ctx context.Context, s Store, collection string, records []any) error {
	if len(records) == 0 {
		return nil
	}
	if b, ok := s.(BatchInserter); ok {
		return b.InsertMany(ctx, collection, records)
	}
	for _, r := range records {
		if err := s.Insert(ctx, collection, r); err != nil {
			return err
		}
	}
	return nil
}

// ToDocument converts a record into its stored field map using its JSON shape.
func ToDocument(record any) (Document, error) {
	switch r := record.(type) {
	case Document:
		return clone(r), nil
	case map[string]any:
		return clone(r), nil
	case nil:
		return nil, fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: record is not an object: %w", ErrInvalidRecord, err)
	}
	return doc, nil
}

// Decode converts a stored document into a typed record.
func Decode(doc Document, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func clone(m map[string]any) Document {
	out := make(Document, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
