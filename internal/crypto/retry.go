package crypto

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// RetryConfig bounds the retries of a RetryingKMS.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// RetryingKMS retries KMS calls that fail with phierr.ErrKMSUnavailable
// using exponential backoff. Any other error is returned immediately.
type RetryingKMS struct {
	next    KeyManagementService
	cfg     RetryConfig
	logger  *zap.Logger
	metrics monitoring.MetricsCollector
}

func NewRetryingKMS(next KeyManagementService, cfg RetryConfig, logger *zap.Logger, metrics monitoring.MetricsCollector) *RetryingKMS {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NoOpMetricsCollector{}
	}
	return &RetryingKMS{next: next, cfg: cfg, logger: logger, metrics: metrics}
}

func (r *RetryingKMS) GetKeyID(ctx context.Context, alias string) (string, error) {
	var id string
	err := r.do(ctx, "get_key_id", func() (err error) {
		id, err = r.next.GetKeyID(ctx, alias)
		return err
	})
	return id, err
}

func (r *RetryingKMS) CreateKey(ctx context.Context, description string) (string, error) {
	var id string
	err := r.do(ctx, "create_key", func() (err error) {
		id, err = r.next.CreateKey(ctx, description)
		return err
	})
	return id, err
}

func (r *RetryingKMS) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "encrypt_dek", func() (err error) {
		out, err = r.next.EncryptDEK(ctx, keyID, plaintext)
		return err
	})
	return out, err
}

func (r *RetryingKMS) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	var out []byte
	err := r.do(ctx, "decrypt_dek", func() (err error) {
		out, err = r.next.DecryptDEK(ctx, keyID, ciphertext)
		return err
	})
	return out, err
}

func (r *RetryingKMS) do(ctx context.Context, operation string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if r.cfg.MaxAttempts > 1 {
		bo = backoff.WithMaxRetries(policy, uint64(r.cfg.MaxAttempts-1))
	}
	b := backoff.WithContext(bo, ctx)

	op := func() error {
		err := fn()
		if err != nil && !errors.Is(err, phierr.ErrKMSUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.IncrementCounter(monitoring.MetricKMSRetries, map[string]string{"operation": operation})
		r.logger.Warn("retrying KMS call", zap.String("operation", operation), zap.Duration("wait", wait), zap.Error(err))
	}
	return backoff.RetryNotify(op, b, notify)
}
