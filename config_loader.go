package fisioflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML file at path, applies FISIOFLOW_* environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: failed to parse config file: %w", ErrInvalidConfiguration, err)
		}
	}

	if err := applyEnvironment(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromEnvironment builds the configuration from FISIOFLOW_*
// variables alone (12-factor deployments).
func LoadConfigFromEnvironment() (Config, error) {
	return LoadConfig("")
}

// LoadDotEnv loads variables from the given .env files without overriding
// ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// SaveConfig writes cfg as YAML.
func SaveConfig(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyEnvironment(cfg *Config) error {
	strs := map[string]*string{
		EnvServiceName:       &cfg.ServiceName,
		EnvLogLevel:          &cfg.Log.Level,
		EnvLogFormat:         &cfg.Log.Format,
		EnvStoreBackend:      &cfg.Store.Backend,
		EnvStoreSQLitePath:   &cfg.Store.SQLitePath,
		EnvStorePostgresURL:  &cfg.Store.PostgresURL,
		EnvStoreS3Bucket:     &cfg.Store.S3Bucket,
		EnvStoreS3Prefix:     &cfg.Store.S3Prefix,
		EnvStoreS3Region:     &cfg.Store.S3Region,
		EnvStoreS3Endpoint:   &cfg.Store.S3Endpoint,
		EnvStoreS3KMSKeyID:   &cfg.Store.S3KMSKeyID,
		EnvKMSProvider:       &cfg.KMS.Provider,
		EnvKEKAlias:          &cfg.KMS.KEKAlias,
		EnvMasterKey:         &cfg.KMS.MasterKey,
		EnvPassphrase:        &cfg.KMS.Passphrase,
		EnvSalt:              &cfg.KMS.Salt,
		EnvAWSRegion:         &cfg.KMS.AWSRegion,
		EnvAWSEndpoint:       &cfg.KMS.AWSEndpoint,
		EnvVaultAddress:      &cfg.KMS.VaultAddress,
		EnvVaultToken:        &cfg.KMS.VaultToken,
		EnvVaultMount:        &cfg.KMS.VaultMount,
		EnvVaultRoleID:       &cfg.KMS.VaultRoleID,
		EnvVaultSecretID:     &cfg.KMS.VaultSecretID,
		EnvKeyStorePath:      &cfg.Keys.StorePath,
		EnvRedisAddress:      &cfg.Redis.Address,
		EnvRedisPassword:     &cfg.Redis.Password,
		EnvRedisChannel:      &cfg.Redis.Channel,
		EnvHTTPAddress:       &cfg.HTTP.Address,
		EnvJWTSigningKey:     &cfg.HTTP.JWTSigningKey,
		EnvJWTIssuer:         &cfg.HTTP.JWTIssuer,
		EnvJWTAudience:       &cfg.HTTP.JWTAudience,
	}
	for env, field := range strs {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}

	errs := errsx.Map{}
	if v := os.Getenv(EnvStorePollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs.Set(EnvStorePollInterval, err)
		}
		cfg.Store.PollInterval = d
	}
	if v := os.Getenv(EnvCacheCapacity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs.Set(EnvCacheCapacity, err)
		}
		cfg.Cache.Capacity = n
	}
	if v := os.Getenv(EnvKeyProvisioning); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs.Set(EnvKeyProvisioning, err)
		}
		cfg.Keys.DisableProvisioning = !enabled
	}
	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return nil
}
