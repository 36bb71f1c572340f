package vaulttransit

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/vault/api"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// Config selects the Vault server and how to authenticate against it.
type Config struct {
	Address   string
	Namespace string
	// MountPath is where the transit engine is mounted. Defaults to "transit".
	MountPath string

	// Token authentication wins over AppRole when both are set.
	Token    string
	RoleID   string
	SecretID string
}

// ConfigFromEnv reads VAULT_ADDR, VAULT_NAMESPACE, VAULT_TOKEN,
// VAULT_ROLE_ID, VAULT_SECRET_ID and VAULT_TRANSIT_MOUNT.
func ConfigFromEnv() Config {
	return Config{
		Address:   os.Getenv("VAULT_ADDR"),
		Namespace: os.Getenv("VAULT_NAMESPACE"),
		MountPath: os.Getenv("VAULT_TRANSIT_MOUNT"),
		Token:     os.Getenv("VAULT_TOKEN"),
		RoleID:    os.Getenv("VAULT_ROLE_ID"),
		SecretID:  os.Getenv("VAULT_SECRET_ID"),
	}
}

// newClient builds an authenticated Vault client.
func newClient(ctx context.Context, cfg Config) (*api.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", phierr.ErrInvalidConfiguration)
	}

	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient.Transport = &http.Transport{Proxy: http.ProxyFromEnvironment}
	// Retries are done by the caller's backoff policy.
	config.MaxRetries = 0

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Vault client: %w", phierr.ErrKMSUnavailable, err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
		return client, nil
	}

	if cfg.RoleID != "" && cfg.SecretID != "" {
		// An empty token keeps the login request unauthenticated.
		client.ClearToken()
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to login with AppRole: %w", phierr.ErrKMSUnavailable, err)
		}
		if resp == nil || resp.Auth == nil {
			return nil, fmt.Errorf("%w: no auth info returned from AppRole login", phierr.ErrInvalidConfiguration)
		}
		client.SetToken(resp.Auth.ClientToken)
		return client, nil
	}

	return nil, fmt.Errorf("%w: no Vault authentication method configured (set a token or role id + secret id)",
		phierr.ErrInvalidConfiguration)
}
