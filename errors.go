package fisioflow

import (
	"errors"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

var (
	// Identity errors
	ErrNotAuthenticated = phierr.ErrNotAuthenticated

	// Operation errors
	ErrEncryptionFailed = phierr.ErrEncryptionFailed
	ErrDecryptionFailed = phierr.ErrDecryptionFailed
	ErrKeyUnavailable   = phierr.ErrKeyUnavailable

	// Service errors
	ErrKMSUnavailable       = phierr.ErrKMSUnavailable
	ErrKeyStoreUnavailable  = phierr.ErrKeyStoreUnavailable
	ErrInvalidConfiguration = phierr.ErrInvalidConfiguration

	// Data errors
	ErrInvalidNote    = phierr.ErrInvalidNote
	ErrInvalidPayload = phierr.ErrInvalidPayload
	ErrNotFound       = store.ErrNotFound
	ErrInvalidQuery   = store.ErrInvalidQuery
)

// IsRetryableError reports whether err came from a dependency that may
// recover on its own.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrKMSUnavailable) ||
		errors.Is(err, ErrKeyStoreUnavailable)
}

// IsConfigurationError reports a problem with how the runtime was set up.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}

// IsOperationError reports a failed encryption or decryption. Retryable
// causes also match IsRetryableError.
func IsOperationError(err error) bool {
	return errors.Is(err, ErrEncryptionFailed) ||
		errors.Is(err, ErrDecryptionFailed)
}

// IsValidationError reports input the caller has to fix.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidNote) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrInvalidQuery)
}
