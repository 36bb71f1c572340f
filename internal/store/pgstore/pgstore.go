// Package pgstore keeps documents in a Postgres (or Supabase) JSONB table.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

// Migration creates the documents table. It is safe to run on every start.
const Migration = `
CREATE TABLE IF NOT EXISTS documents (
    seq        BIGSERIAL PRIMARY KEY,
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    data       JSONB NOT NULL,
    UNIQUE (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops);
`

const DefaultPollInterval = 2 * time.Second

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the Postgres document store.
type Store struct {
	db           queryable
	pool         *pgxpool.Pool
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// PoolConfig sizes the connection pool. Zero values keep the pgx defaults.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// Open connects to databaseURL, pings it and applies Migration.
func Open(ctx context.Context, databaseURL string, pc PoolConfig, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, Migration); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}

	s := newStore(pool, opts...)
	s.pool = pool
	return s, nil
}

func newStore(db queryable, opts ...Option) *Store {
	s := &Store{db: db, pollInterval: DefaultPollInterval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *Store) Add(ctx context.Context, collection string, data store.Document) (string, error) {
	raw, err := store.Encode(data, s.now())
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	const query = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`
	if _, err := s.db.Exec(ctx, query, collection, id, raw); err != nil {
		return "", fmt.Errorf("insert document into %s: %w", collection, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Snapshot, error) {
	const query = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	var raw []byte
	if err := s.db.QueryRow(ctx, query, collection, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
		}
		return nil, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	doc, err := store.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &store.Snapshot{ID: id, Data: doc}, nil
}

// Update merges with the jsonb || operator, which replaces top-level keys.
// Keys set to store.DeleteField are removed first with the jsonb - operator.
func (s *Store) Update(ctx context.Context, collection, id string, data store.Document) error {
	patch, err := store.Encode(data, s.now())
	if err != nil {
		return err
	}
	deleted := store.DeletedKeys(data)
	if deleted == nil {
		deleted = []string{}
	}
	const query = `UPDATE documents SET data = (data - $4::text[]) || $3::jsonb WHERE collection = $1 AND id = $2`
	tag, err := s.db.Exec(ctx, query, collection, id, patch, deleted)
	if err != nil {
		return fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	const query = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	tag, err := s.db.Exec(ctx, query, collection, id)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Snapshot, error) {
	query, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []store.Snapshot
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := store.Decode(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, store.Snapshot{ID: id, Data: doc})
	}
	return docs, rows.Err()
}

// Watch polls the query. Supabase realtime would push instead; polling keeps
// the store usable against any Postgres.
func (s *Store) Watch(ctx context.Context, q store.Query, fn store.WatchFunc) (func(), error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return store.Poll(ctx, s.pollInterval, func(ctx context.Context) ([]store.Snapshot, error) {
		return s.Query(ctx, q)
	}, fn), nil
}

func buildQuery(q store.Query) (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)

	if len(q.Filters) > 0 {
		contains := make(map[string]any, len(q.Filters))
		for _, f := range q.Filters {
			if prev, dup := contains[f.Field]; dup && !reflect.DeepEqual(prev, f.Value) {
				// Two different values for one field can never match.
				b.WriteString(` AND FALSE`)
			}
			contains[f.Field] = f.Value
		}
		raw, err := json.Marshal(contains)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", store.ErrInvalidQuery, err)
		}
		args = append(args, string(raw))
		fmt.Fprintf(&b, ` AND data @> $%d::jsonb`, len(args))
	}

	b.WriteString(` ORDER BY `)
	for _, o := range q.OrderBy {
		// Field names are validated identifiers, so quoting them is safe.
		fmt.Fprintf(&b, `data->'%s'`, o.Field)
		if o.Desc {
			b.WriteString(` DESC NULLS LAST`)
		} else {
			b.WriteString(` NULLS FIRST`)
		}
		b.WriteString(`, `)
	}
	b.WriteString(`seq`)

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args, nil
}
