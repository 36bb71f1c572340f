// Package vaulttransit wraps owner data keys with a HashiCorp Vault transit
// key. Key material never leaves Vault.
package vaulttransit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/vault/api"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// TransitService implements the KMS contract with the Vault transit engine.
type TransitService struct {
	client *api.Client
	mount  string
}

// New authenticates against Vault and returns the service.
//
// The transit engine must be enabled before use:
//
//	vault secrets enable transit
func New(ctx context.Context, cfg Config) (*TransitService, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mount := cfg.MountPath
	if mount == "" {
		mount = "transit"
	}
	return &TransitService{client: client, mount: mount}, nil
}

// GetKeyID checks that the transit key exists. Transit keys are addressed
// by name, so the alias is the key id.
func (t *TransitService) GetKeyID(ctx context.Context, alias string) (string, error) {
	if alias == "" {
		return "", fmt.Errorf("%w: alias cannot be empty", phierr.ErrInvalidConfiguration)
	}
	resp, err := t.client.Logical().ReadWithContext(ctx, t.path("keys", alias))
	if err != nil {
		return "", classify(fmt.Sprintf("read transit key '%s'", alias), err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: transit key '%s' does not exist", phierr.ErrKeyUnavailable, alias)
	}
	return alias, nil
}

// CreateKey creates (or rotates, when it already exists) the transit key
// named description. Vault keeps every key version able to decrypt, so the
// returned id stays the name.
func (t *TransitService) CreateKey(ctx context.Context, description string) (string, error) {
	if description == "" {
		return "", fmt.Errorf("%w: description (key name) cannot be empty", phierr.ErrInvalidConfiguration)
	}

	existing, err := t.client.Logical().ReadWithContext(ctx, t.path("keys", description))
	if err != nil {
		return "", classify(fmt.Sprintf("read transit key '%s'", description), err)
	}
	if existing != nil {
		if _, err := t.client.Logical().WriteWithContext(ctx, t.path("keys", description, "rotate"), nil); err != nil {
			return "", classify(fmt.Sprintf("rotate transit key '%s'", description), err)
		}
		return description, nil
	}

	if _, err := t.client.Logical().WriteWithContext(ctx, t.path("keys", description), map[string]interface{}{
		"type": "aes256-gcm96",
	}); err != nil {
		return "", classify(fmt.Sprintf("create transit key '%s'", description), err)
	}
	return description, nil
}

// EncryptDEK returns Vault formatted ciphertext ("vault:v1:...").
func (t *TransitService) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: plaintext cannot be empty", phierr.ErrInvalidConfiguration)
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: keyID cannot be empty", phierr.ErrInvalidConfiguration)
	}

	resp, err := t.client.Logical().WriteWithContext(ctx, t.path("encrypt", keyID), map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("encrypt with key '%s'", keyID), err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: no response from Vault transit encrypt", phierr.ErrKMSUnavailable)
	}
	ciphertext, ok := resp.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: ciphertext not found in response", phierr.ErrKMSUnavailable)
	}
	return []byte(ciphertext), nil
}

// DecryptDEK unwraps Vault formatted ciphertext.
func (t *TransitService) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: ciphertext cannot be empty", phierr.ErrKeyUnavailable)
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: keyID cannot be empty", phierr.ErrInvalidConfiguration)
	}

	resp, err := t.client.Logical().WriteWithContext(ctx, t.path("decrypt", keyID), map[string]interface{}{
		"ciphertext": string(ciphertext),
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("decrypt with key '%s'", keyID), err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: no response from Vault transit decrypt", phierr.ErrKMSUnavailable)
	}
	encoded, ok := resp.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: plaintext not found in response", phierr.ErrKMSUnavailable)
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode plaintext: %w", phierr.ErrKMSUnavailable, err)
	}
	return plaintext, nil
}

func (t *TransitService) path(parts ...string) string {
	p := t.mount
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// classify treats 4xx answers as permanent key problems and everything
// else as a transient outage.
func classify(op string, err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode >= http.StatusBadRequest && respErr.StatusCode < http.StatusInternalServerError &&
		respErr.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: failed to %s: %w", phierr.ErrKeyUnavailable, op, err)
	}
	return fmt.Errorf("%w: failed to %s: %w", phierr.ErrKMSUnavailable, op, err)
}
