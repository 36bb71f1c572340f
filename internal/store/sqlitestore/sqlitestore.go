// Package sqlitestore keeps documents as JSON rows in SQLite and queries them
// with the json1 functions.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		UNIQUE (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, seq);
`

// DefaultPollInterval is how often a watched query is re-run.
const DefaultPollInterval = time.Second

// Store is a SQLite document store.
type Store struct {
	db           *sql.DB
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

// Open opens (creating if needed) the database at path. An empty path opens
// a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create document store directory '%s': %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store at '%s': %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and applies the schema.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("document store connection test failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create document store schema: %w", err)
	}
	s := &Store{db: db, pollInterval: DefaultPollInterval, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Add(ctx context.Context, collection string, data store.Document) (string, error) {
	raw, err := store.Encode(data, s.now())
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`,
		collection, id, string(raw)); err != nil {
		return "", fmt.Errorf("failed to insert document into '%s': %w", collection, err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s/%s: %w", collection, id, err)
	}
	doc, err := store.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &store.Snapshot{ID: id, Data: doc}, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, data store.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin document update: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read document %s/%s: %w", collection, id, err)
	}

	merged, err := store.Merge([]byte(raw), data, s.now())
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data = ? WHERE collection = ? AND id = ?`,
		string(merged), collection, id); err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Snapshot, error) {
	query, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query '%s': %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []store.Snapshot
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := store.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, store.Snapshot{ID: id, Data: doc})
	}
	return docs, rows.Err()
}

// Watch polls the query; SQLite has no change feed usable across processes.
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
	b.WriteString(`SELECT id, data FROM documents WHERE collection = ?`)

	for _, f := range q.Filters {
		path := "$." + f.Field
		switch v := f.Value.(type) {
		case nil:
			b.WriteString(` AND json_type(data, ?) = 'null'`)
			args = append(args, path)
		case string, bool, int, int32, int64, float32, float64:
			b.WriteString(` AND json_extract(data, ?) = ?`)
			args = append(args, path, v)
		default:
			return "", nil, fmt.Errorf("%w: unsupported filter value %T for '%s'", store.ErrInvalidQuery, f.Value, f.Field)
		}
	}

	b.WriteString(` ORDER BY `)
	for _, o := range q.OrderBy {
		b.WriteString(`json_extract(data, ?)`)
		if o.Desc {
			b.WriteString(` DESC`)
		}
		b.WriteString(`, `)
		args = append(args, "$."+o.Field)
	}
	b.WriteString(`seq`)

	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	return b.String(), args, nil
}
