// Package phierr holds the sentinel errors shared by the PHI packages.
// The root package re-exports them so callers never import this package.
package phierr

import (
	"errors"
	"fmt"
)

var (
	// Identity errors
	ErrNotAuthenticated = errors.New("not authenticated")

	// Operation errors
	ErrEncryptionFailed = errors.New("failed to encrypt note data")
	ErrDecryptionFailed = errors.New("failed to decrypt note data")
	ErrKeyUnavailable   = errors.New("no key available for owner")

	// Service errors
	ErrKMSUnavailable       = errors.New("KMS service unavailable")
	ErrKeyStoreUnavailable  = errors.New("key store unavailable")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Data errors
	ErrInvalidNote    = errors.New("invalid clinical note")
	ErrInvalidPayload = errors.New("invalid encrypted payload")
)

// NewEncryptionError wraps cause so that it matches ErrEncryptionFailed.
// The cause must never carry plaintext.
func NewEncryptionError(field string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: field '%s'", ErrEncryptionFailed, field)
	}
	return fmt.Errorf("%w: field '%s': %w", ErrEncryptionFailed, field, cause)
}

// NewDecryptionError wraps cause so that it matches ErrDecryptionFailed.
func NewDecryptionError(keyID string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: key '%s'", ErrDecryptionFailed, keyID)
	}
	return fmt.Errorf("%w: key '%s': %w", ErrDecryptionFailed, keyID, cause)
}

func NewKeyUnavailableError(ownerID string) error {
	return fmt.Errorf("%w: '%s'", ErrKeyUnavailable, ownerID)
}

func NewInvalidNoteError(field string, reason string) error {
	return fmt.Errorf("%w: '%s' %s", ErrInvalidNote, field, reason)
}

func NewInvalidPayloadError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, reason)
}
