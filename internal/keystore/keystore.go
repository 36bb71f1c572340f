// Package keystore persists key metadata: the KEK versions known for an alias
// and the wrapped per-owner data keys. Plaintext key material never reaches
// this package.
package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a KEK version or owner key does not exist.
var ErrNotFound = errors.New("key metadata not found")

const schema = `
	CREATE TABLE IF NOT EXISTS kek_versions (
		alias TEXT NOT NULL,
		version INTEGER NOT NULL,
		creation_time DATETIME DEFAULT CURRENT_TIMESTAMP,
		is_deprecated BOOLEAN DEFAULT FALSE,
		kms_key_id TEXT NOT NULL,
		PRIMARY KEY (alias, version)
	);

	CREATE INDEX IF NOT EXISTS idx_kek_versions_alias ON kek_versions(alias);
	CREATE INDEX IF NOT EXISTS idx_kek_versions_active ON kek_versions(alias, is_deprecated);

	CREATE TABLE IF NOT EXISTS owner_keys (
		key_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		kek_alias TEXT NOT NULL,
		kek_version INTEGER NOT NULL,
		wrapped_dek BLOB NOT NULL,
		creation_time DATETIME NOT NULL,
		is_active BOOLEAN DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_owner_keys_owner ON owner_keys(owner_id, is_active);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_owner_keys_one_active ON owner_keys(owner_id) WHERE is_active;
`

// KEKVersion is one row of kek_versions.
type KEKVersion struct {
	Alias        string
	Version      int
	CreationTime time.Time
	IsDeprecated bool
	KMSKeyID     string // identifier of the key in the KMS (transit key name, AWS key ARN)
}

// OwnerKey is a data key wrapped under a KEK version.
type OwnerKey struct {
	KeyID        string
	OwnerID      string
	KEKAlias     string
	KEKVersion   int
	WrappedDEK   []byte
	CreationTime time.Time
}

// Store is the SQLite backed key metadata store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. An empty path opens a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create key store directory '%s': %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store at '%s': %w", path, err)
	}
	// SQLite serialises writers; one connection keeps in-memory databases alive.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle and applies the schema.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("key store connection test failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create key store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CurrentKEKVersion returns the highest non-deprecated version for alias, or
// 0 when the alias has no versions yet.
func (s *Store) CurrentKEKVersion(ctx context.Context, alias string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM kek_versions
		WHERE alias = ? AND is_deprecated = FALSE
	`, alias).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current KEK version for alias '%s': %w", alias, err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// KMSKeyIDForVersion returns the KMS key identifier recorded for a version.
func (s *Store) KMSKeyIDForVersion(ctx context.Context, alias string, version int) (string, error) {
	var kmsKeyID string
	err := s.db.QueryRowContext(ctx, `
		SELECT kms_key_id FROM kek_versions
		WHERE alias = ? AND version = ?
	`, alias, version).Scan(&kmsKeyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: KEK alias '%s' version %d", ErrNotFound, alias, version)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get KMS key ID for alias '%s' version %d: %w", alias, version, err)
	}
	return kmsKeyID, nil
}

// AddKEKVersion records version as the current one and deprecates every
// older version of alias in the same transaction.
func (s *Store) AddKEKVersion(ctx context.Context, alias string, version int, kmsKeyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin KEK version transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE kek_versions SET is_deprecated = TRUE
		WHERE alias = ? AND version < ?
	`, alias, version); err != nil {
		return fmt.Errorf("failed to deprecate old KEK versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kek_versions (alias, version, kms_key_id) VALUES (?, ?, ?)
	`, alias, version, kmsKeyID); err != nil {
		return fmt.Errorf("failed to record KEK version %d for alias '%s': %w", version, alias, err)
	}
	return tx.Commit()
}

// KEKVersions lists every recorded version of alias, oldest first.
func (s *Store) KEKVersions(ctx context.Context, alias string) ([]KEKVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alias, version, creation_time, is_deprecated, kms_key_id
		FROM kek_versions WHERE alias = ? ORDER BY version
	`, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to list KEK versions for alias '%s': %w", alias, err)
	}
	defer rows.Close()

	var versions []KEKVersion
	for rows.Next() {
		var v KEKVersion
		if err := rows.Scan(&v.Alias, &v.Version, &v.CreationTime, &v.IsDeprecated, &v.KMSKeyID); err != nil {
			return nil, fmt.Errorf("failed to scan KEK version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// InsertOwnerKey stores k as the active key of its owner. Any previously
// active key of the owner stays readable through OwnerKeyByID.
func (s *Store) InsertOwnerKey(ctx context.Context, k OwnerKey) error {
	if k.CreationTime.IsZero() {
		k.CreationTime = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin owner key transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE owner_keys SET is_active = FALSE WHERE owner_id = ?
	`, k.OwnerID); err != nil {
		return fmt.Errorf("failed to deactivate previous owner keys: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO owner_keys (key_id, owner_id, kek_alias, kek_version, wrapped_dek, creation_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.KeyID, k.OwnerID, k.KEKAlias, k.KEKVersion, k.WrappedDEK, k.CreationTime); err != nil {
		return fmt.Errorf("failed to insert owner key '%s': %w", k.KeyID, err)
	}
	return tx.Commit()
}

// ActiveOwnerKey returns the key new payloads of ownerID are sealed with.
func (s *Store) ActiveOwnerKey(ctx context.Context, ownerID string) (*OwnerKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key_id, owner_id, kek_alias, kek_version, wrapped_dek, creation_time
		FROM owner_keys WHERE owner_id = ? AND is_active = TRUE
	`, ownerID)
	return scanOwnerKey(row, "active key of owner")
}

// OwnerKeyByID returns the key with keyID, active or not.
func (s *Store) OwnerKeyByID(ctx context.Context, keyID string) (*OwnerKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key_id, owner_id, kek_alias, kek_version, wrapped_dek, creation_time
		FROM owner_keys WHERE key_id = ?
	`, keyID)
	return scanOwnerKey(row, "owner key")
}

// OwnerKeysBelowVersion lists the keys of alias wrapped under a KEK version
// older than version.
func (s *Store) OwnerKeysBelowVersion(ctx context.Context, alias string, version int) ([]OwnerKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_id, owner_id, kek_alias, kek_version, wrapped_dek, creation_time
		FROM owner_keys WHERE kek_alias = ? AND kek_version < ?
		ORDER BY creation_time
	`, alias, version)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner keys below version %d: %w", version, err)
	}
	defer rows.Close()

	var keys []OwnerKey
	for rows.Next() {
		var k OwnerKey
		if err := rows.Scan(&k.KeyID, &k.OwnerID, &k.KEKAlias, &k.KEKVersion, &k.WrappedDEK, &k.CreationTime); err != nil {
			return nil, fmt.Errorf("failed to scan owner key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateWrappedDEK replaces the wrapped bytes of keyID after a re-wrap.
func (s *Store) UpdateWrappedDEK(ctx context.Context, keyID string, kekVersion int, wrapped []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE owner_keys SET kek_version = ?, wrapped_dek = ? WHERE key_id = ?
	`, kekVersion, wrapped, keyID)
	if err != nil {
		return fmt.Errorf("failed to update wrapped key '%s': %w", keyID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update wrapped key '%s': %w", keyID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: owner key '%s'", ErrNotFound, keyID)
	}
	return nil
}

func scanOwnerKey(row *sql.Row, what string) (*OwnerKey, error) {
	var k OwnerKey
	err := row.Scan(&k.KeyID, &k.OwnerID, &k.KEKAlias, &k.KEKVersion, &k.WrappedDEK, &k.CreationTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}
	return &k, nil
}
