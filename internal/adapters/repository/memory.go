package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/okian/fleetguard/internal/domain/features"
)

// Default memory store configuration.
const defaultMemoryCapacity = 100_000

// MemoryStore keeps documents in process. Each collection is bounded; the
// oldest inserts are evicted first.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]entry
	seq         uint64
	capacity    int
}

type entry struct {
	seq uint64
	doc Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string][]entry),
		capacity:    defaultMemoryCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Insert(ctx context.Context, collection string, record any) error {
	doc, err := ToDocument(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(collection, doc)
	return nil
}

func (s *MemoryStore) InsertMany(ctx context.Context, collection string, records []any) error {
	docs := make([]Document, 0, len(records))
	for _, r := range records {
		doc, err := ToDocument(r)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.appendLocked(collection, d)
	}
	return nil
}

func (s *MemoryStore) appendLocked(collection string, doc Document) {
	s.seq++
	entries := append(s.collections[collection], entry{seq: s.seq, doc: doc})
	if len(entries) > s.capacity {
		entries = entries[len(entries)-s.capacity:]
	}
	s.collections[collection] = entries
}

func (s *MemoryStore) FindLatest(ctx context.Context, collection string, filter Filter, sortKey string) (Document, error) {
	if sortKey == "" {
		sortKey = DefaultSortKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *entry
	for i := range s.collections[collection] {
		e := &s.collections[collection][i]
		if !matches(e.doc, filter) {
			continue
		}
		if best == nil || compareValues(e.doc[sortKey], best.doc[sortKey]) >= 0 {
			best = e
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return clone(best.doc), nil
}

func (s *MemoryStore) FindMany(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	s.mu.RLock()
	var hits []entry
	for _, e := range s.collections[collection] {
		if matches(e.doc, filter) {
			hits = append(hits, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		c := compareValues(hits[i].doc[DefaultSortKey], hits[j].doc[DefaultSortKey])
		if c != 0 {
			return c > 0
		}
		return hits[i].seq > hits[j].seq
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Document, len(hits))
	for i, e := range hits {
		out[i] = clone(e.doc)
	}
	return out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, collection string, filter Filter, patch any) error {
	fields, err := ToDocument(patch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.collections[collection]
	for i := range entries {
		if matches(entries[i].doc, filter) {
			merged := clone(entries[i].doc)
			for k, v := range fields {
				merged[k] = v
			}
			entries[i].doc = merged
			return nil
		}
	}
	doc := clone(filter)
	for k, v := range fields {
		doc[k] = v
	}
	s.appendLocked(collection, doc)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.collections[collection]
	kept := entries[:0]
	for _, e := range entries {
		if !matches(e.doc, filter) {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	clear(entries[len(kept):])
	s.collections[collection] = kept
	return removed, nil
}

// Count returns the number of documents held in collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		if !equalValues(doc[k], want) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders nil < numbers < strings.
func compareValues(a, b any) int {
	fa, aNum := number(a)
	fb, bNum := number(b)
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	switch {
	case aNum && bNum:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case aStr && bStr:
		return strings.Compare(sa, sb)
	}
	return rank(a) - rank(b)
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := number(v); ok {
		return 1
	}
	if _, ok := v.(string); ok {
		return 2
	}
	return 3
}

// number accepts stored numeric types only; numeric strings stay strings.
func number(v any) (float64, bool) {
	switch v.(type) {
	case string, bool, nil:
		return 0, false
	}
	return features.Float(v)
}
