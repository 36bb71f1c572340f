package fisioflow

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/hengadev/errsx"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/crypto"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/identity"
)

// Config holds every setting of a Runtime. It contains only data; load it
// from YAML with LoadConfig, from the environment, or build it in code, and
// call Validate before use.
type Config struct {
	ServiceName string         `yaml:"service_name"`
	Log         LogConfig      `yaml:"log"`
	Store       StoreConfig    `yaml:"store"`
	KMS         KMSConfig      `yaml:"kms"`
	Keys        KeysConfig     `yaml:"keys"`
	Cache       CacheConfig    `yaml:"cache"`
	Redis       RedisConfig    `yaml:"redis"`
	HTTP        HTTPConfig     `yaml:"http"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the document store holding the notes.
type StoreConfig struct {
	// Backend is one of memory, sqlite, postgres or s3. Default: sqlite.
	Backend string `yaml:"backend"`

	SQLitePath string `yaml:"sqlite_path"`

	PostgresURL      string `yaml:"postgres_url"`
	PostgresMaxConns int32  `yaml:"postgres_max_conns"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	S3KMSKeyID  string `yaml:"s3_kms_key_id"`

	// PollInterval drives live queries on backends without push updates.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// KMSConfig selects where the key encryption key lives.
type KMSConfig struct {
	// Provider is one of local, awskms or vault. Default: local.
	Provider string `yaml:"provider"`
	// KEKAlias names the KEK in the provider. Maximum length: 256.
	KEKAlias string `yaml:"kek_alias"`

	// Local provider: a base64 master key, or a passphrase and salt.
	MasterKey  string `yaml:"master_key"`
	Passphrase string `yaml:"passphrase"`
	Salt       string `yaml:"salt"`

	AWSRegion   string `yaml:"aws_region"`
	AWSEndpoint string `yaml:"aws_endpoint"`

	VaultAddress   string `yaml:"vault_address"`
	VaultNamespace string `yaml:"vault_namespace"`
	VaultMount     string `yaml:"vault_mount"`
	VaultToken     string `yaml:"vault_token"`
	VaultRoleID    string `yaml:"vault_role_id"`
	VaultSecretID  string `yaml:"vault_secret_id"`

	Retry RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type KeysConfig struct {
	// StorePath is the SQLite file with KEK versions and wrapped owner keys.
	StorePath string `yaml:"store_path"`
	// DisableProvisioning stops the keyring from creating a key for a
	// professional who has none; their writes then fail.
	DisableProvisioning bool `yaml:"disable_provisioning"`
}

type CacheConfig struct {
	// Capacity bounds the decrypted note cache. Zero means unbounded.
	Capacity int `yaml:"capacity"`
}

// RedisConfig enables the cross-instance wipe broadcast when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type HTTPConfig struct {
	Address       string `yaml:"address"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
	JWTIssuer     string `yaml:"jwt_issuer"`
	JWTAudience   string `yaml:"jwt_audience"`
}

// DefaultConfig returns a configuration for a local single-node setup.
// The local KMS still needs a master key or passphrase.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	setDefault(&c.ServiceName, DefaultServiceName)
	setDefault(&c.Log.Level, DefaultLogLevel)
	setDefault(&c.Log.Format, DefaultLogFormat)
	setDefault(&c.Store.Backend, DefaultStoreBackend)
	if c.Store.Backend == StoreSQLite {
		setDefault(&c.Store.SQLitePath, DefaultSQLitePath)
	}
	setDefault(&c.KMS.Provider, DefaultKMSProvider)
	setDefault(&c.KMS.KEKAlias, DefaultKEKAlias)
	setDefault(&c.Keys.StorePath, DefaultKeyStorePath)
	setDefault(&c.Redis.Channel, DefaultRedisChannel)
	setDefault(&c.HTTP.Address, DefaultHTTPAddress)

	def := crypto.DefaultRetryConfig()
	if c.KMS.Retry.MaxAttempts == 0 {
		c.KMS.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.KMS.Retry.InitialInterval == 0 {
		c.KMS.Retry.InitialInterval = def.InitialInterval
	}
	if c.KMS.Retry.MaxInterval == 0 {
		c.KMS.Retry.MaxInterval = def.MaxInterval
	}
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// Validate applies defaults and reports every invalid setting at once.
// The error matches ErrInvalidConfiguration.
func (c *Config) Validate() error {
	c.applyDefaults()
	errs := errsx.Map{}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.Set("log.level", fmt.Errorf("unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs.Set("log.format", fmt.Errorf("must be json or console, got %q", c.Log.Format))
	}

	c.validateStore(&errs)
	c.validateKMS(&errs)

	if c.Cache.Capacity < 0 {
		errs.Set("cache.capacity", fmt.Errorf("must be >= 0, got %d", c.Cache.Capacity))
	}
	if k := c.HTTP.JWTSigningKey; k != "" && len(k) < identity.MinSigningKeyLength {
		errs.Set("http.jwt_signing_key", fmt.Errorf("must be at least %d bytes", identity.MinSigningKeyLength))
	}

	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return nil
}

func (c *Config) validateStore(errs *errsx.Map) {
	s := c.Store
	switch s.Backend {
	case StoreMemory:
	case StoreSQLite:
		if s.SQLitePath == "" {
			errs.Set("store.sqlite_path", fmt.Errorf("is required for the sqlite backend"))
		}
	case StorePostgres:
		if s.PostgresURL == "" {
			errs.Set("store.postgres_url", fmt.Errorf("is required for the postgres backend"))
		}
		if s.PostgresMaxConns < 0 {
			errs.Set("store.postgres_max_conns", fmt.Errorf("must be >= 0"))
		}
	case StoreS3:
		if s.S3Bucket == "" {
			errs.Set("store.s3_bucket", fmt.Errorf("is required for the s3 backend"))
		}
	default:
		errs.Set("store.backend", fmt.Errorf("unknown backend %q", s.Backend))
	}
	if s.PollInterval < 0 {
		errs.Set("store.poll_interval", fmt.Errorf("must be >= 0"))
	}
}

func (c *Config) validateKMS(errs *errsx.Map) {
	k := c.KMS
	if len(k.KEKAlias) > 256 {
		errs.Set("kms.kek_alias", fmt.Errorf("maximum 256 characters, got %d", len(k.KEKAlias)))
	}
	for _, ch := range k.KEKAlias {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') || ch == '-' || ch == '_' || ch == '/') {
			errs.Set("kms.kek_alias", fmt.Errorf("invalid character '%c'", ch))
			break
		}
	}

	switch k.Provider {
	case KMSLocal:
		if k.MasterKey != "" {
			key, err := base64.StdEncoding.DecodeString(k.MasterKey)
			if err != nil || len(key) != crypto.KeySize {
				errs.Set("kms.master_key", fmt.Errorf("must be %d bytes of base64", crypto.KeySize))
			}
		} else if k.Passphrase == "" {
			errs.Set("kms.master_key", fmt.Errorf("a master key or a passphrase is required for the local provider"))
		} else if len(k.Salt) < MinSaltLength {
			errs.Set("kms.salt", fmt.Errorf("must be at least %d bytes", MinSaltLength))
		}
	case KMSAWS:
	case KMSVault:
		if k.VaultAddress == "" {
			errs.Set("kms.vault_address", fmt.Errorf("is required for the vault provider"))
		}
		if k.VaultToken == "" && (k.VaultRoleID == "" || k.VaultSecretID == "") {
			errs.Set("kms.vault_token", fmt.Errorf("a token or an AppRole role/secret id pair is required"))
		}
	default:
		errs.Set("kms.provider", fmt.Errorf("unknown provider %q", k.Provider))
	}

	if k.Retry.MaxAttempts < 1 {
		errs.Set("kms.retry.max_attempts", fmt.Errorf("must be >= 1"))
	}
}
