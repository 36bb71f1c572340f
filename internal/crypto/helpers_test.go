package crypto

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/keystore"
)

// fakeKMS wraps keys with AES-GCM under one KEK per created key id.
type fakeKMS struct {
	mu       sync.Mutex
	keks     map[string][]byte
	created  atomic.Int32
	unwraps  atomic.Int32
	failWrap error
}

func newFakeKMS() *fakeKMS {
	return &fakeKMS{keks: make(map[string][]byte)}
}

func (f *fakeKMS) GetKeyID(ctx context.Context, alias string) (string, error) {
	return "", fmt.Errorf("alias '%s' not found", alias)
}

func (f *fakeKMS) CreateKey(ctx context.Context, description string) (string, error) {
	kek, err := GenerateDEK()
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("kek-%d", f.created.Add(1))
	f.mu.Lock()
	f.keks[id] = kek
	f.mu.Unlock()
	return id, nil
}

func (f *fakeKMS) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	if f.failWrap != nil {
		return nil, f.failWrap
	}
	f.mu.Lock()
	kek, ok := f.keks[keyID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown KEK '%s'", keyID)
	}
	return EncryptData(plaintext, kek)
}

func (f *fakeKMS) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	f.unwraps.Add(1)
	f.mu.Lock()
	kek, ok := f.keks[keyID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown KEK '%s'", keyID)
	}
	return DecryptData(ciphertext, kek)
}

// MockKMSService is a mock implementation of KeyManagementService
type MockKMSService struct {
	mock.Mock
}

func (m *MockKMSService) GetKeyID(ctx context.Context, alias string) (string, error) {
	args := m.Called(ctx, alias)
	return args.String(0), args.Error(1)
}

func (m *MockKMSService) CreateKey(ctx context.Context, description string) (string, error) {
	args := m.Called(ctx, description)
	return args.String(0), args.Error(1)
}

func (m *MockKMSService) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	args := m.Called(ctx, keyID, plaintext)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *MockKMSService) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	args := m.Called(ctx, keyID, ciphertext)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func newTestKeyStore(t *testing.T) *keystore.Store {
	t.Helper()
	s, err := keystore.Open(context.Background(), filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestKeyring(t *testing.T, opts ...KeyringOption) (*Keyring, *fakeKMS, *keystore.Store) {
	t.Helper()
	kms := newFakeKMS()
	store := newTestKeyStore(t)
	ring, err := NewKeyring(kms, store, "clinical-notes-kek", opts...)
	require.NoError(t, err)
	require.NoError(t, ring.EnsureInitialKEK(context.Background()))
	return ring, kms, store
}
