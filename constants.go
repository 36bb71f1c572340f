package fisioflow

// Environment variable names. Every setting of Config can be overridden
// through one of them.
const (
	EnvPrefix = "FISIOFLOW_"

	EnvServiceName = "FISIOFLOW_SERVICE_NAME"
	EnvLogLevel    = "FISIOFLOW_LOG_LEVEL"
	EnvLogFormat   = "FISIOFLOW_LOG_FORMAT"

	EnvStoreBackend      = "FISIOFLOW_STORE_BACKEND"
	EnvStoreSQLitePath   = "FISIOFLOW_STORE_SQLITE_PATH"
	EnvStorePostgresURL  = "FISIOFLOW_STORE_POSTGRES_URL"
	EnvStoreS3Bucket     = "FISIOFLOW_STORE_S3_BUCKET"
	EnvStoreS3Prefix     = "FISIOFLOW_STORE_S3_PREFIX"
	EnvStoreS3Region     = "FISIOFLOW_STORE_S3_REGION"
	EnvStoreS3Endpoint   = "FISIOFLOW_STORE_S3_ENDPOINT"
	EnvStoreS3KMSKeyID   = "FISIOFLOW_STORE_S3_KMS_KEY_ID"
	EnvStorePollInterval = "FISIOFLOW_STORE_POLL_INTERVAL"

	EnvKMSProvider   = "FISIOFLOW_KMS_PROVIDER"
	EnvKEKAlias      = "FISIOFLOW_KEK_ALIAS"
	EnvMasterKey     = "FISIOFLOW_KMS_MASTER_KEY"
	EnvPassphrase    = "FISIOFLOW_KMS_PASSPHRASE"
	EnvSalt          = "FISIOFLOW_KMS_SALT"
	EnvAWSRegion     = "FISIOFLOW_KMS_AWS_REGION"
	EnvAWSEndpoint   = "FISIOFLOW_KMS_AWS_ENDPOINT"
	EnvVaultAddress  = "FISIOFLOW_KMS_VAULT_ADDRESS"
	EnvVaultToken    = "FISIOFLOW_KMS_VAULT_TOKEN"
	EnvVaultMount    = "FISIOFLOW_KMS_VAULT_MOUNT"
	EnvVaultRoleID   = "FISIOFLOW_KMS_VAULT_ROLE_ID"
	EnvVaultSecretID = "FISIOFLOW_KMS_VAULT_SECRET_ID"

	EnvKeyStorePath     = "FISIOFLOW_KEYSTORE_PATH"
	EnvKeyProvisioning  = "FISIOFLOW_KEY_PROVISIONING"
	EnvCacheCapacity    = "FISIOFLOW_CACHE_CAPACITY"
	EnvRedisAddress     = "FISIOFLOW_REDIS_ADDRESS"
	EnvRedisPassword    = "FISIOFLOW_REDIS_PASSWORD"
	EnvRedisChannel     = "FISIOFLOW_REDIS_CHANNEL"
	EnvHTTPAddress      = "FISIOFLOW_HTTP_ADDRESS"
	EnvJWTSigningKey    = "FISIOFLOW_JWT_SIGNING_KEY"
	EnvJWTIssuer        = "FISIOFLOW_JWT_ISSUER"
	EnvJWTAudience      = "FISIOFLOW_JWT_AUDIENCE"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreS3       = "s3"
)

// KMS providers
const (
	KMSLocal = "local"
	KMSAWS   = "awskms"
	KMSVault = "vault"
)

// Default values
const (
	DefaultServiceName   = "fisioflow-notes"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultStoreBackend  = StoreSQLite
	DefaultSQLitePath    = ".fisioflow/notes.db"
	DefaultKMSProvider   = KMSLocal
	DefaultKEKAlias      = "fisioflow-clinical-notes"
	DefaultKeyStorePath  = ".fisioflow/keys.db"
	DefaultRedisChannel  = "fisioflow:phi-wipe"
	DefaultHTTPAddress   = ":8080"
	MinSaltLength        = 16
)
