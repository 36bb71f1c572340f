package fisioflow

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
)

// Option overrides a dependency New would otherwise build from Config.
type Option func(*runtimeOptions) error

type runtimeOptions struct {
	logger  *zap.Logger
	metrics monitoring.MetricsCollector
	store   DocumentStore
	kms     KeyManagementService
	actors  ActorProvider
	redis   redis.UniversalClient
	session bool
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *runtimeOptions) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithMetrics replaces the Prometheus collector. The /metrics route is
// only served for the default collector.
func WithMetrics(metrics monitoring.MetricsCollector) Option {
	return func(o *runtimeOptions) error {
		if metrics == nil {
			return fmt.Errorf("metrics collector cannot be nil")
		}
		o.metrics = metrics
		return nil
	}
}

// WithDocumentStore uses st instead of the configured backend. The caller
// keeps ownership of st.
func WithDocumentStore(st DocumentStore) Option {
	return func(o *runtimeOptions) error {
		if st == nil {
			return fmt.Errorf("document store cannot be nil")
		}
		o.store = st
		return nil
	}
}

// WithKMS uses kms instead of the configured provider. It is still wrapped
// with the configured retry policy.
func WithKMS(kms KeyManagementService) Option {
	return func(o *runtimeOptions) error {
		if kms == nil {
			return fmt.Errorf("KMS service cannot be nil")
		}
		o.kms = kms
		return nil
	}
}

// WithActorProvider decides who is acting. The default reads the actor put
// in the context by WithActor.
func WithActorProvider(actors ActorProvider) Option {
	return func(o *runtimeOptions) error {
		if actors == nil {
			return fmt.Errorf("actor provider cannot be nil")
		}
		o.actors = actors
		return nil
	}
}

// WithSessionIdentity makes Runtime.Session the actor provider, for a
// process serving one signed-in professional at a time.
func WithSessionIdentity() Option {
	return func(o *runtimeOptions) error {
		o.session = true
		return nil
	}
}

// WithRedisClient uses client for the wipe broadcast instead of dialing
// Config.Redis.Address. The caller keeps ownership of client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *runtimeOptions) error {
		if client == nil {
			return fmt.Errorf("redis client cannot be nil")
		}
		o.redis = client
		return nil
	}
}
