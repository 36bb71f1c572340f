// Package localkms is a self-contained KMS for development and single-node
// deployments. Every KEK is derived from one master key with HKDF-SHA256,
// so no KEK is ever stored.
package localkms

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/crypto"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

const keyPrefix = "local:"

// Argon2Params tunes passphrase stretching.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultArgon2Params returns recommended parameters for Argon2id
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024, // 64MB
		Iterations:  3,
		Parallelism: 2,
	}
}

// Service derives KEKs from a master key.
type Service struct {
	master []byte
}

// New uses masterKey (32 bytes) as the HKDF input keying material.
func New(masterKey []byte) (*Service, error) {
	if len(masterKey) != crypto.KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", phierr.ErrInvalidConfiguration, crypto.KeySize, len(masterKey))
	}
	master := make([]byte, len(masterKey))
	copy(master, masterKey)
	return &Service{master: master}, nil
}

// FromPassphrase stretches passphrase with Argon2id into a master key.
// The salt must be stable across restarts or existing keys become
// unreadable.
func FromPassphrase(passphrase, salt string, params Argon2Params) (*Service, error) {
	if passphrase == "" || len(salt) < 16 {
		return nil, fmt.Errorf("%w: passphrase and a salt of at least 16 bytes are required", phierr.ErrInvalidConfiguration)
	}
	master := argon2.IDKey([]byte(passphrase), []byte(salt), params.Iterations, params.Memory, params.Parallelism, crypto.KeySize)
	return &Service{master: master}, nil
}

// GetKeyID maps an alias to its stable key id.
func (s *Service) GetKeyID(ctx context.Context, alias string) (string, error) {
	if alias == "" {
		return "", fmt.Errorf("%w: alias cannot be empty", phierr.ErrInvalidConfiguration)
	}
	return keyPrefix + alias, nil
}

// CreateKey returns a new key id. The key itself is derived on use.
func (s *Service) CreateKey(ctx context.Context, description string) (string, error) {
	if description == "" {
		return "", fmt.Errorf("%w: description cannot be empty", phierr.ErrInvalidConfiguration)
	}
	return keyPrefix + description + "/" + uuid.NewString(), nil
}

func (s *Service) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	kek, err := s.derive(keyID)
	if err != nil {
		return nil, err
	}
	return crypto.EncryptData(plaintext, kek)
}

func (s *Service) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	kek, err := s.derive(keyID)
	if err != nil {
		return nil, err
	}
	dek, err := crypto.DecryptData(ciphertext, kek)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", phierr.ErrKeyUnavailable, err)
	}
	return dek, nil
}

func (s *Service) derive(keyID string) ([]byte, error) {
	if !strings.HasPrefix(keyID, keyPrefix) {
		return nil, fmt.Errorf("%w: '%s' is not a local key id", phierr.ErrKeyUnavailable, keyID)
	}
	kek := make([]byte, crypto.KeySize)
	r := hkdf.New(sha256.New, s.master, nil, []byte("fisioflow-kek:"+keyID))
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, fmt.Errorf("failed to derive KEK: %w", err)
	}
	return kek, nil
}
