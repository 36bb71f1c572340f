package fisioflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/api"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/crypto"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/health"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/identity"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/keystore"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/notes"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phicache"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store/memstore"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store/pgstore"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store/s3store"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store/sqlitestore"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/providers/awskms"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/providers/localkms"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/providers/vaulttransit"
)

// Runtime is the composed note service: one cache registry, one keyring,
// one repository. Build it once per process and pass it to whatever needs
// notes.
type Runtime struct {
	Config  Config
	Logger  *zap.Logger
	Metrics monitoring.MetricsCollector

	Caches    *phicache.Manager
	Keyring   *crypto.Keyring
	Crypto    *crypto.Service
	Notes     *notes.Repository
	NoteCache *notes.Cache
	Session   *identity.Session
	Health    *health.Checker

	metricsHandler http.Handler
	closers        []func() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// New validates cfg and wires every component. On failure everything opened
// so far is closed again.
func New(ctx context.Context, cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &runtimeOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
	}

	rt := &Runtime{Config: cfg}
	if err := rt.build(ctx, o); err != nil {
		rt.Close()
		return nil, err
	}
	rt.Logger.Info("runtime ready",
		zap.String("store", cfg.Store.Backend),
		zap.String("kms", cfg.KMS.Provider),
		zap.Bool("wipe_broadcast", o.redis != nil || cfg.Redis.Address != ""),
	)
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, o *runtimeOptions) error {
	cfg := rt.Config

	rt.Logger = o.logger
	if rt.Logger == nil {
		logger, err := monitoring.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.ServiceName)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
		rt.Logger = logger
	}

	if o.metrics != nil {
		rt.Metrics = o.metrics
	} else {
		prom := monitoring.NewPrometheusCollector()
		rt.Metrics = prom
		rt.metricsHandler = prom.Handler()
	}

	rt.Caches = phicache.NewManager(rt.Logger, rt.Metrics)
	rt.Health = health.NewChecker(cfg.ServiceName, Version)

	keys, err := keystore.Open(ctx, cfg.Keys.StorePath)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, keys.Close)
	rt.Health.Ping("keystore", keys.Ping)

	kms := o.kms
	if kms == nil {
		if kms, err = newKMS(ctx, cfg.KMS); err != nil {
			return err
		}
	}
	retrying := crypto.NewRetryingKMS(kms, crypto.RetryConfig{
		MaxAttempts:     cfg.KMS.Retry.MaxAttempts,
		InitialInterval: cfg.KMS.Retry.InitialInterval,
		MaxInterval:     cfg.KMS.Retry.MaxInterval,
	}, rt.Logger, rt.Metrics)

	rt.Keyring, err = crypto.NewKeyring(retrying, keys, cfg.KMS.KEKAlias,
		crypto.WithProvisioning(!cfg.Keys.DisableProvisioning),
		crypto.WithKeyringLogger(rt.Logger),
		crypto.WithKeyringMetrics(rt.Metrics),
		crypto.WithCacheManager(rt.Caches),
	)
	if err != nil {
		return err
	}
	if err := rt.Keyring.EnsureInitialKEK(ctx); err != nil {
		return fmt.Errorf("failed to initialize KEK: %w", err)
	}
	rt.Crypto = crypto.NewService(rt.Keyring, rt.Logger, rt.Metrics)

	st := o.store
	if st == nil {
		if st, err = rt.openStore(ctx, cfg.Store); err != nil {
			return err
		}
	}
	if p, ok := st.(pinger); ok {
		rt.Health.Ping("store", p.Ping)
	}

	rt.NoteCache = notes.NewCache(rt.Caches,
		notes.WithCapacity(cfg.Cache.Capacity),
		notes.WithCacheMetrics(rt.Metrics),
	)
	rt.Session = identity.NewSession(rt.Caches, rt.Logger)

	actors := o.actors
	switch {
	case actors != nil:
	case o.session:
		actors = rt.Session
	default:
		actors = identity.ContextProvider{}
	}

	rt.Notes, err = notes.NewRepository(st, rt.Crypto, actors, rt.NoteCache,
		notes.WithLogger(rt.Logger),
		notes.WithMetrics(rt.Metrics),
	)
	if err != nil {
		return err
	}

	return rt.startBroadcast(ctx, o.redis)
}

func newKMS(ctx context.Context, cfg KMSConfig) (KeyManagementService, error) {
	switch cfg.Provider {
	case KMSAWS:
		return awskms.New(ctx, awskms.Config{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
	case KMSVault:
		return vaulttransit.New(ctx, vaulttransit.Config{
			Address:   cfg.VaultAddress,
			Namespace: cfg.VaultNamespace,
			MountPath: cfg.VaultMount,
			Token:     cfg.VaultToken,
			RoleID:    cfg.VaultRoleID,
			SecretID:  cfg.VaultSecretID,
		})
	default:
		if cfg.MasterKey != "" {
			master, err := base64.StdEncoding.DecodeString(cfg.MasterKey)
			if err != nil {
				return nil, fmt.Errorf("%w: master key is not base64", ErrInvalidConfiguration)
			}
			return localkms.New(master)
		}
		return localkms.FromPassphrase(cfg.Passphrase, cfg.Salt, localkms.DefaultArgon2Params())
	}
}

func (rt *Runtime) openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case StoreMemory:
		return memstore.New(), nil
	case StorePostgres:
		st, err := pgstore.Open(ctx, cfg.PostgresURL, pgstore.PoolConfig{MaxConns: cfg.PostgresMaxConns},
			pgstore.WithPollInterval(cfg.PollInterval))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, st.Close)
		return st, nil
	case StoreS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3PathStyle,
			KMSKeyID:     cfg.S3KMSKeyID,
		}, s3store.WithPollInterval(cfg.PollInterval))
	default:
		st, err := sqlitestore.Open(ctx, cfg.SQLitePath, sqlitestore.WithPollInterval(cfg.PollInterval))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, st.Close)
		return st, nil
	}
}

func (rt *Runtime) startBroadcast(ctx context.Context, client redis.UniversalClient) error {
	if client == nil {
		if rt.Config.Redis.Address == "" {
			return nil
		}
		owned := redis.NewClient(&redis.Options{
			Addr:     rt.Config.Redis.Address,
			Password: rt.Config.Redis.Password,
			DB:       rt.Config.Redis.DB,
		})
		rt.closers = append(rt.closers, owned.Close)
		client = owned
	}

	b := phicache.NewRedisWipeBroadcaster(client, rt.Config.Redis.Channel, rt.Caches, rt.Logger)
	if err := b.Start(ctx); err != nil {
		return err
	}
	rt.closers = append(rt.closers, b.Close)
	rt.Health.Register(health.Check{
		Name: "redis",
		Probe: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	})
	return nil
}

// MetricsHandler serves the Prometheus registry, or nil when a custom
// collector was supplied.
func (rt *Runtime) MetricsHandler() http.Handler {
	return rt.metricsHandler
}

// Server builds the HTTP API. It needs Config.HTTP.JWTSigningKey.
func (rt *Runtime) Server() (*echo.Echo, error) {
	if rt.Config.HTTP.JWTSigningKey == "" {
		return nil, fmt.Errorf("%w: http.jwt_signing_key is required to serve", ErrInvalidConfiguration)
	}
	verifier, err := rt.TokenVerifier()
	if err != nil {
		return nil, err
	}
	return api.NewServer(api.Deps{
		Notes:          rt.Notes,
		Verifier:       verifier,
		Wiper:          rt.Caches,
		Health:         rt.Health,
		Metrics:        rt.Metrics,
		MetricsHandler: rt.metricsHandler,
		Logger:         rt.Logger,
	})
}

// TokenVerifier returns the bearer token verifier configured in Config.HTTP.
func (rt *Runtime) TokenVerifier() (*identity.JWTVerifier, error) {
	var opts []identity.JWTOption
	if rt.Config.HTTP.JWTIssuer != "" {
		opts = append(opts, identity.WithIssuer(rt.Config.HTTP.JWTIssuer))
	}
	if rt.Config.HTTP.JWTAudience != "" {
		opts = append(opts, identity.WithAudience(rt.Config.HTTP.JWTAudience))
	}
	return identity.NewJWTVerifier([]byte(rt.Config.HTTP.JWTSigningKey), opts...)
}

// Close wipes every PHI cache of this process and releases the resources
// New opened, in reverse order.
func (rt *Runtime) Close() error {
	if rt.Caches != nil {
		rt.Caches.ClearLocal()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
