package crypto

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/keystore"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// KeyManagementService is the KEK side of envelope encryption. Data keys
// only ever reach it to be wrapped or unwrapped.
type KeyManagementService interface {
	// GetKeyID resolves an alias to the KMS key identifier.
	GetKeyID(ctx context.Context, alias string) (string, error)
	// CreateKey creates a new KEK and returns its identifier.
	CreateKey(ctx context.Context, description string) (string, error)
	EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)
	DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
}

// KeyStore persists KEK versions and wrapped owner keys.
// *keystore.Store satisfies it.
type KeyStore interface {
	CurrentKEKVersion(ctx context.Context, alias string) (int, error)
	KMSKeyIDForVersion(ctx context.Context, alias string, version int) (string, error)
	AddKEKVersion(ctx context.Context, alias string, version int, kmsKeyID string) error

	InsertOwnerKey(ctx context.Context, k keystore.OwnerKey) error
	ActiveOwnerKey(ctx context.Context, ownerID string) (*keystore.OwnerKey, error)
	OwnerKeyByID(ctx context.Context, keyID string) (*keystore.OwnerKey, error)
	OwnerKeysBelowVersion(ctx context.Context, alias string, version int) ([]keystore.OwnerKey, error)
	UpdateWrappedDEK(ctx context.Context, keyID string, kekVersion int, wrapped []byte) error
}

// GenerateDEK returns a fresh random AES-256 data key.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

// dekWrapper wraps data keys with the KEK version recorded for an alias.
type dekWrapper struct {
	kms   KeyManagementService
	store KeyStore
	alias string
}

// wrap encrypts dek with the current KEK version and returns that version.
func (w *dekWrapper) wrap(ctx context.Context, dek []byte) ([]byte, int, error) {
	version, err := w.store.CurrentKEKVersion(ctx, w.alias)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	if version == 0 {
		return nil, 0, fmt.Errorf("%w: no KEK recorded for alias '%s'", phierr.ErrKeyUnavailable, w.alias)
	}
	kmsKeyID, err := w.store.KMSKeyIDForVersion(ctx, w.alias, version)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	wrapped, err := w.kms.EncryptDEK(ctx, kmsKeyID, dek)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to wrap DEK with KEK version %d: %w", version, err)
	}
	return wrapped, version, nil
}

// unwrap decrypts a data key wrapped under version.
func (w *dekWrapper) unwrap(ctx context.Context, wrapped []byte, version int) ([]byte, error) {
	kmsKeyID, err := w.store.KMSKeyIDForVersion(ctx, w.alias, version)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, fmt.Errorf("%w: KEK version %d is not recorded", phierr.ErrKeyUnavailable, version)
		}
		return nil, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	dek, err := w.kms.DecryptDEK(ctx, kmsKeyID, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap DEK with KEK version %d: %w", version, err)
	}
	if len(dek) != KeySize {
		zero(dek)
		return nil, fmt.Errorf("%w: unwrapped DEK has %d bytes", phierr.ErrKeyUnavailable, len(dek))
	}
	return dek, nil
}

// ensureInitialKEK records version 1 for the alias when the store has none,
// reusing the KMS key the alias already resolves to or creating one.
func (w *dekWrapper) ensureInitialKEK(ctx context.Context) (bool, error) {
	version, err := w.store.CurrentKEKVersion(ctx, w.alias)
	if err != nil {
		return false, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	if version > 0 {
		return false, nil
	}

	kmsKeyID, err := w.kms.GetKeyID(ctx, w.alias)
	if err != nil || kmsKeyID == "" {
		// An error here usually means the key does not exist yet.
		kmsKeyID, err = w.kms.CreateKey(ctx, w.alias)
		if err != nil {
			return false, fmt.Errorf("failed to create initial KEK in KMS: %w", err)
		}
	}
	if err := w.store.AddKEKVersion(ctx, w.alias, 1, kmsKeyID); err != nil {
		return false, fmt.Errorf("%w: failed to record initial KEK: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	return true, nil
}

// rotate creates a new KMS key and records it as the next version.
func (w *dekWrapper) rotate(ctx context.Context) (int, error) {
	current, err := w.store.CurrentKEKVersion(ctx, w.alias)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	kmsKeyID, err := w.kms.CreateKey(ctx, w.alias)
	if err != nil {
		return 0, fmt.Errorf("failed to create new KEK version in KMS: %w", err)
	}
	next := current + 1
	if err := w.store.AddKEKVersion(ctx, w.alias, next, kmsKeyID); err != nil {
		return 0, fmt.Errorf("%w: failed to record KEK version %d: %w", phierr.ErrKeyStoreUnavailable, next, err)
	}
	return next, nil
}
