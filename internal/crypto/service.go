package crypto

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// KeySource hands out owner data keys. *Keyring satisfies it.
type KeySource interface {
	KeyFor(ctx context.Context, ownerID string) (string, []byte, error)
	KeyByID(ctx context.Context, ownerID, keyID string) ([]byte, error)
}

// Service encrypts and decrypts single field values under the key of
// their owner. Errors and logs never contain plaintext or key bytes.
type Service struct {
	keys    KeySource
	logger  *zap.Logger
	metrics monitoring.MetricsCollector
}

func NewService(keys KeySource, logger *zap.Logger, metrics monitoring.MetricsCollector) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NoOpMetricsCollector{}
	}
	return &Service{keys: keys, logger: logger, metrics: metrics}
}

// Encrypt seals plaintext under the active key of ownerID. Failures match
// phierr.ErrEncryptionFailed.
func (s *Service) Encrypt(ctx context.Context, plaintext, ownerID string) (*Payload, error) {
	start := time.Now()

	keyID, key, err := s.keys.KeyFor(ctx, ownerID)
	if err != nil {
		s.observe("encrypt", start, err)
		return nil, fmt.Errorf("%w: %w", phierr.ErrEncryptionFailed, err)
	}
	defer zero(key)

	payload, err := SealField(key, keyID, []byte(plaintext))
	if err != nil {
		s.observe("encrypt", start, err)
		return nil, fmt.Errorf("%w: %w", phierr.ErrEncryptionFailed, err)
	}
	s.observe("encrypt", start, nil)
	return payload, nil
}

// Decrypt opens payload with the key it names, which must belong to
// ownerID. Failures match phierr.ErrDecryptionFailed.
func (s *Service) Decrypt(ctx context.Context, payload *Payload, ownerID string) (string, error) {
	start := time.Now()
	if payload == nil {
		err := phierr.NewInvalidPayloadError("payload is nil")
		s.observe("decrypt", start, err)
		return "", phierr.NewDecryptionError("", err)
	}

	key, err := s.keys.KeyByID(ctx, ownerID, payload.KeyID)
	if err != nil {
		s.observe("decrypt", start, err)
		return "", phierr.NewDecryptionError(payload.KeyID, err)
	}
	defer zero(key)

	plaintext, err := OpenField(key, payload)
	if err != nil {
		s.observe("decrypt", start, err)
		s.logger.Warn("field authentication failed", zap.String("key_id", payload.KeyID))
		return "", phierr.NewDecryptionError(payload.KeyID, err)
	}
	s.observe("decrypt", start, nil)
	return string(plaintext), nil
}

func (s *Service) observe(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	name := monitoring.MetricFieldEncrypt
	if operation == "decrypt" {
		name = monitoring.MetricFieldDecrypt
	}
	s.metrics.IncrementCounter(name, map[string]string{"outcome": outcome})
	s.metrics.RecordTiming(monitoring.MetricCryptoDuration, time.Since(start), map[string]string{"operation": operation})
}
