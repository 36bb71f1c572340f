package crypto

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/keystore"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/monitoring"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phicache"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// KeyringCacheName is the name the keyring registers under with the PHI
// cache manager.
const KeyringCacheName = "owner-keys"

type ownerDEK struct {
	ownerID string
	dek     []byte
}

// Keyring resolves per-owner data keys. Unwrapped keys are kept in memory
// until Clear, which zeroes them.
type Keyring struct {
	wrapper   *dekWrapper
	store     KeyStore
	alias     string
	provision bool
	logger    *zap.Logger
	metrics   monitoring.MetricsCollector

	// loadMu serialises the slow path so one owner never gets two keys.
	loadMu sync.Mutex

	mu     sync.RWMutex
	active map[string]string // owner id -> key id
	keys   map[string]ownerDEK
}

// KeyringOption configures a Keyring.
type KeyringOption func(*Keyring)

// WithProvisioning controls whether KeyFor creates a key for owners that
// have none. Enabled by default.
func WithProvisioning(enabled bool) KeyringOption {
	return func(k *Keyring) { k.provision = enabled }
}

func WithKeyringLogger(logger *zap.Logger) KeyringOption {
	return func(k *Keyring) {
		if logger != nil {
			k.logger = logger
		}
	}
}

func WithKeyringMetrics(metrics monitoring.MetricsCollector) KeyringOption {
	return func(k *Keyring) {
		if metrics != nil {
			k.metrics = metrics
		}
	}
}

// WithCacheManager registers the keyring so that wiping PHI caches also
// drops the unwrapped keys.
func WithCacheManager(manager *phicache.Manager) KeyringOption {
	return func(k *Keyring) {
		if manager != nil {
			manager.Register(KeyringCacheName, k)
		}
	}
}

// NewKeyring builds a keyring wrapping owner keys under the KEK alias.
func NewKeyring(kms KeyManagementService, store KeyStore, kekAlias string, opts ...KeyringOption) (*Keyring, error) {
	if kms == nil {
		return nil, fmt.Errorf("%w: KMS service cannot be nil", phierr.ErrInvalidConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: key store cannot be nil", phierr.ErrInvalidConfiguration)
	}
	if kekAlias == "" {
		return nil, fmt.Errorf("%w: KEK alias cannot be empty", phierr.ErrInvalidConfiguration)
	}

	k := &Keyring{
		wrapper:   &dekWrapper{kms: kms, store: store, alias: kekAlias},
		store:     store,
		alias:     kekAlias,
		provision: true,
		logger:    zap.NewNop(),
		metrics:   monitoring.NoOpMetricsCollector{},
		active:    make(map[string]string),
		keys:      make(map[string]ownerDEK),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With(zap.String("kek_alias", kekAlias))
	return k, nil
}

// EnsureInitialKEK records the first KEK version when none exists.
func (k *Keyring) EnsureInitialKEK(ctx context.Context) error {
	created, err := k.wrapper.ensureInitialKEK(ctx)
	if err != nil {
		return err
	}
	if created {
		k.keyOperation("init_kek", 1)
		k.logger.Info("initial KEK recorded")
	}
	return nil
}

// KeyFor returns the id and a copy of the active data key of ownerID. The
// caller owns the returned slice.
func (k *Keyring) KeyFor(ctx context.Context, ownerID string) (string, []byte, error) {
	if ownerID == "" {
		return "", nil, phierr.NewKeyUnavailableError(ownerID)
	}

	k.mu.RLock()
	if keyID, ok := k.active[ownerID]; ok {
		dek := clone(k.keys[keyID].dek)
		k.mu.RUnlock()
		return keyID, dek, nil
	}
	k.mu.RUnlock()

	k.loadMu.Lock()
	defer k.loadMu.Unlock()

	// Another goroutine may have loaded it while we waited.
	k.mu.RLock()
	if keyID, ok := k.active[ownerID]; ok {
		dek := clone(k.keys[keyID].dek)
		k.mu.RUnlock()
		return keyID, dek, nil
	}
	k.mu.RUnlock()

	record, err := k.store.ActiveOwnerKey(ctx, ownerID)
	switch {
	case err == nil:
		dek, err := k.wrapper.unwrap(ctx, record.WrappedDEK, record.KEKVersion)
		if err != nil {
			return "", nil, err
		}
		k.remember(record.KeyID, ownerID, dek, true)
		return record.KeyID, clone(dek), nil
	case !errors.Is(err, keystore.ErrNotFound):
		return "", nil, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	case !k.provision:
		return "", nil, phierr.NewKeyUnavailableError(ownerID)
	}

	return k.provisionKey(ctx, ownerID)
}

func (k *Keyring) provisionKey(ctx context.Context, ownerID string) (string, []byte, error) {
	dek, err := GenerateDEK()
	if err != nil {
		return "", nil, err
	}
	wrapped, version, err := k.wrapper.wrap(ctx, dek)
	if err != nil {
		zero(dek)
		return "", nil, err
	}

	keyID := uuid.NewString()
	if err := k.store.InsertOwnerKey(ctx, keystore.OwnerKey{
		KeyID:      keyID,
		OwnerID:    ownerID,
		KEKAlias:   k.alias,
		KEKVersion: version,
		WrappedDEK: wrapped,
	}); err != nil {
		zero(dek)
		return "", nil, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}

	k.remember(keyID, ownerID, dek, true)
	k.keyOperation("provision", version)
	k.logger.Info("owner key provisioned", zap.String("key_id", keyID), zap.Int("kek_version", version))
	return keyID, clone(dek), nil
}

// KeyByID returns a copy of the data key a payload names. Keys belonging to
// another owner are refused.
func (k *Keyring) KeyByID(ctx context.Context, ownerID, keyID string) ([]byte, error) {
	k.mu.RLock()
	cached, ok := k.keys[keyID]
	k.mu.RUnlock()
	if ok {
		if cached.ownerID != ownerID {
			return nil, fmt.Errorf("%w: key '%s' is not held by the current owner", phierr.ErrKeyUnavailable, keyID)
		}
		return clone(cached.dek), nil
	}

	record, err := k.store.OwnerKeyByID(ctx, keyID)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown key '%s'", phierr.ErrKeyUnavailable, keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	if record.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: key '%s' is not held by the current owner", phierr.ErrKeyUnavailable, keyID)
	}

	dek, err := k.wrapper.unwrap(ctx, record.WrappedDEK, record.KEKVersion)
	if err != nil {
		return nil, err
	}
	k.remember(keyID, ownerID, dek, false)
	return clone(dek), nil
}

// RotateKEK records a new KEK version. Keys provisioned afterwards are
// wrapped with it; existing keys keep their version until RewrapOwnerKeys.
func (k *Keyring) RotateKEK(ctx context.Context) (int, error) {
	version, err := k.wrapper.rotate(ctx)
	if err != nil {
		return 0, err
	}
	k.keyOperation("rotate_kek", version)
	k.logger.Info("KEK rotated", zap.Int("kek_version", version))
	return version, nil
}

// RewrapOwnerKeys re-wraps every owner key recorded under an older KEK
// version with the current one. Data keys do not change, so existing
// payloads stay readable. It returns the number of keys re-wrapped.
func (k *Keyring) RewrapOwnerKeys(ctx context.Context) (int, error) {
	current, err := k.store.CurrentKEKVersion(ctx, k.alias)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}
	stale, err := k.store.OwnerKeysBelowVersion(ctx, k.alias, current)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
	}

	rewrapped := 0
	for _, record := range stale {
		dek, err := k.wrapper.unwrap(ctx, record.WrappedDEK, record.KEKVersion)
		if err != nil {
			return rewrapped, fmt.Errorf("key '%s': %w", record.KeyID, err)
		}
		wrapped, version, err := k.wrapper.wrap(ctx, dek)
		zero(dek)
		if err != nil {
			return rewrapped, fmt.Errorf("key '%s': %w", record.KeyID, err)
		}
		if err := k.store.UpdateWrappedDEK(ctx, record.KeyID, version, wrapped); err != nil {
			return rewrapped, fmt.Errorf("%w: %w", phierr.ErrKeyStoreUnavailable, err)
		}
		rewrapped++
		k.keyOperation("rewrap", version)
	}

	k.logger.Info("owner keys re-wrapped", zap.Int("count", rewrapped), zap.Int("kek_version", current))
	return rewrapped, nil
}

// Clear zeroes and forgets every unwrapped key.
func (k *Keyring) Clear() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, entry := range k.keys {
		zero(entry.dek)
	}
	k.keys = make(map[string]ownerDEK)
	k.active = make(map[string]string)
	return nil
}

// Len reports how many unwrapped keys are held.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

func (k *Keyring) remember(keyID, ownerID string, dek []byte, active bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if prev, ok := k.keys[keyID]; ok {
		zero(prev.dek)
	}
	k.keys[keyID] = ownerDEK{ownerID: ownerID, dek: dek}
	if active {
		k.active[ownerID] = keyID
	}
}

func (k *Keyring) keyOperation(operation string, version int) {
	k.metrics.IncrementCounter(monitoring.MetricKeyOperations, map[string]string{
		"operation":   operation,
		"kek_version": strconv.Itoa(version),
	})
}
