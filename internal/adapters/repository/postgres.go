package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the single JSONB documents table.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id          BIGSERIAL PRIMARY KEY,
		collection  TEXT        NOT NULL,
		body        JSONB       NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS documents_vehicle_ts_idx
		ON documents (collection, (body->>'vehicleId'), (body->>'timestamp') DESC)`,
	`CREATE INDEX IF NOT EXISTS documents_body_idx ON documents USING GIN (body jsonb_path_ops)`,
}

// PostgresStore keeps every collection in one JSONB table.
// Sort keys compare as text, which matches the fixed-width timestamp layout.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool for dsn and pings it. maxConns <= 0 keeps the pool default.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %w", ErrStorageUnavailable, err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %w", ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrStorageUnavailable, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the documents table and its indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: schema: %w", ErrStorageUnavailable, err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection string, record any) error {
	body, err := marshalBody(record)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO documents (collection, body) VALUES ($1, $2)`, collection, body); err != nil {
		return fmt.Errorf("%w: insert %s: %w", ErrStorageUnavailable, collection, err)
	}
	return nil
}

// InsertMany streams records with COPY.
func (s *PostgresStore) InsertMany(ctx context.Context, collection string, records []any) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		body, err := marshalBody(r)
		if err != nil {
			return err
		}
		rows = append(rows, []any{collection, body})
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"documents"}, []string{"collection", "body"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("%w: copy %s: %w", ErrStorageUnavailable, collection, err)
	}
	return nil
}

func (s *PostgresStore) FindLatest(ctx context.Context, collection string, filter Filter, sortKey string) (Document, error) {
	if sortKey == "" {
		sortKey = DefaultSortKey
	}
	f, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = s.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND body @> $2
		 ORDER BY body->>$3 DESC NULLS LAST, id DESC LIMIT 1`,
		collection, f, sortKey).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find latest %s: %w", ErrStorageUnavailable, collection, err)
	}
	return unmarshalBody(body)
}

func (s *PostgresStore) FindMany(ctx context.Context, collection string, filter Filter, limit int) ([]Document, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	f, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND body @> $2
		 ORDER BY body->>'timestamp' DESC NULLS LAST, id DESC LIMIT $3`,
		collection, f, lim)
	if err != nil {
		return nil, fmt.Errorf("%w: find many %s: %w", ErrStorageUnavailable, collection, err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %w", ErrStorageUnavailable, collection, err)
	}
	out := make([]Document, 0, len(bodies))
	for _, b := range bodies {
		doc, err := unmarshalBody(b)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Upsert serializes writers on the same collection and filter with a
// transaction-scoped advisory lock so a missing document is inserted once.
func (s *PostgresStore) Upsert(ctx context.Context, collection string, filter Filter, patch any) error {
	f, err := marshalFilter(filter)
	if err != nil {
		return err
	}
	p, err := marshalBody(patch)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, collection+string(f)); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET body = body || $3
			 WHERE id = (SELECT id FROM documents WHERE collection = $1 AND body @> $2 ORDER BY id LIMIT 1)`,
			collection, f, p)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO documents (collection, body) VALUES ($1, $2::jsonb || $3::jsonb)`, collection, f, p)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrStorageUnavailable, collection, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection string, filter Filter) (int, error) {
	f, err := marshalFilter(filter)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND body @> $2`, collection, f)
	if err != nil {
		return 0, fmt.Errorf("%w: delete %s: %w", ErrStorageUnavailable, collection, err)
	}
	return int(tag.RowsAffected()), nil
}

func marshalBody(record any) ([]byte, error) {
	doc, err := ToDocument(record)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return b, nil
}

func marshalFilter(f Filter) ([]byte, error) {
	if f == nil {
		f = Filter{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %w", ErrInvalidRecord, err)
	}
	return b, nil
}

func unmarshalBody(b []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrStorageUnavailable, err)
	}
	return doc, nil
}
