package vaulttransit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

// mockTransit emulates the transit endpoints used by TransitService. The
// "ciphertext" is the base64 plaintext behind a vault prefix.
type mockTransit struct {
	mu       sync.Mutex
	keys     map[string]int // name -> latest version
	tokens   []string
	failWith int
}

func newMockTransit(t *testing.T) (*mockTransit, *httptest.Server) {
	m := &mockTransit{keys: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(srv.Close)
	return m, srv
}

func (m *mockTransit) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, r.Header.Get("X-Vault-Token"))

	w.Header().Set("Content-Type", "application/json")
	if m.failWith != 0 {
		w.WriteHeader(m.failWith)
		w.Write([]byte(`{"errors":["failure"]}`))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	parts := strings.Split(path, "/")
	var body map[string]interface{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case path == "auth/approle/login":
		if body["role_id"] != "role" || body["secret_id"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":["invalid role or secret id"]}`))
			return
		}
		w.Write([]byte(`{"auth":{"client_token":"approle-token"}}`))
	case len(parts) == 4 && parts[1] == "keys" && parts[3] == "rotate":
		m.keys[parts[2]]++
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 3 && parts[1] == "keys" && r.Method == http.MethodGet:
		version, ok := m.keys[parts[2]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"latest_version": version}})
	case len(parts) == 3 && parts[1] == "keys":
		m.keys[parts[2]] = 1
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 3 && parts[1] == "encrypt":
		if _, ok := m.keys[parts[2]]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":["encryption key not found"]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{
			"ciphertext": "vault:v1:" + body["plaintext"].(string),
		}})
	case len(parts) == 3 && parts[1] == "decrypt":
		ciphertext, _ := body["ciphertext"].(string)
		if !strings.HasPrefix(ciphertext, "vault:v1:") {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":["invalid ciphertext"]}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{
			"plaintext": strings.TrimPrefix(ciphertext, "vault:v1:"),
		}})
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[]}`))
	}
}

func TestNew_Authentication(t *testing.T) {
	ctx := context.Background()
	mock, srv := newMockTransit(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "token", cfg: Config{Address: srv.URL, Token: "root"}},
		{name: "approle", cfg: Config{Address: srv.URL, RoleID: "role", SecretID: "secret"}},
		{name: "bad approle", cfg: Config{Address: srv.URL, RoleID: "role", SecretID: "wrong"}, wantErr: phierr.ErrKMSUnavailable},
		{name: "no auth", cfg: Config{Address: srv.URL}, wantErr: phierr.ErrInvalidConfiguration},
		{name: "no address", cfg: Config{Token: "root"}, wantErr: phierr.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := New(ctx, tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "transit", svc.mount)
		})
	}

	svc, err := New(ctx, Config{Address: srv.URL, RoleID: "role", SecretID: "secret"})
	require.NoError(t, err)
	_, err = svc.CreateKey(ctx, "k")
	require.NoError(t, err)
	mock.mu.Lock()
	assert.Equal(t, "approle-token", mock.tokens[len(mock.tokens)-1])
	mock.mu.Unlock()
}

func TestTransitService_KeyLifecycle(t *testing.T) {
	ctx := context.Background()
	mock, srv := newMockTransit(t)
	svc, err := New(ctx, Config{Address: srv.URL, Token: "root"})
	require.NoError(t, err)

	_, err = svc.GetKeyID(ctx, "clinical-notes-kek")
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)

	id, err := svc.CreateKey(ctx, "clinical-notes-kek")
	require.NoError(t, err)
	assert.Equal(t, "clinical-notes-kek", id)

	id, err = svc.GetKeyID(ctx, "clinical-notes-kek")
	require.NoError(t, err)
	assert.Equal(t, "clinical-notes-kek", id)

	// Creating an existing key rotates it.
	_, err = svc.CreateKey(ctx, "clinical-notes-kek")
	require.NoError(t, err)
	mock.mu.Lock()
	assert.Equal(t, 2, mock.keys["clinical-notes-kek"])
	mock.mu.Unlock()

	_, err = svc.GetKeyID(ctx, "")
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)
}

func TestTransitService_WrapUnwrap(t *testing.T) {
	ctx := context.Background()
	_, srv := newMockTransit(t)
	svc, err := New(ctx, Config{Address: srv.URL, Token: "root"})
	require.NoError(t, err)
	_, err = svc.CreateKey(ctx, "kek")
	require.NoError(t, err)

	dek := []byte("0123456789abcdef0123456789abcdef")
	wrapped, err := svc.EncryptDEK(ctx, "kek", dek)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(wrapped), "vault:v1:"))

	unwrapped, err := svc.DecryptDEK(ctx, "kek", wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)

	_, err = svc.DecryptDEK(ctx, "kek", []byte("garbage"))
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)

	_, err = svc.EncryptDEK(ctx, "missing", dek)
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)

	_, err = svc.EncryptDEK(ctx, "kek", nil)
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)
	_, err = svc.DecryptDEK(ctx, "", wrapped)
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)
}

func TestTransitService_ServerErrorIsRetryable(t *testing.T) {
	ctx := context.Background()
	mock, srv := newMockTransit(t)
	svc, err := New(ctx, Config{Address: srv.URL, Token: "root", MountPath: "phi-transit"})
	require.NoError(t, err)

	mock.mu.Lock()
	mock.failWith = http.StatusServiceUnavailable
	mock.mu.Unlock()

	_, err = svc.EncryptDEK(ctx, "kek", []byte("dek"))
	assert.ErrorIs(t, err, phierr.ErrKMSUnavailable)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("VAULT_ADDR", "https://vault.internal:8200")
	t.Setenv("VAULT_TOKEN", "tok")
	t.Setenv("VAULT_TRANSIT_MOUNT", "phi")

	cfg := ConfigFromEnv()
	assert.Equal(t, "https://vault.internal:8200", cfg.Address)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, "phi", cfg.MountPath)
}
