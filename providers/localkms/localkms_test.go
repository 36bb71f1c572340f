package localkms

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return svc
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)

	_, err = FromPassphrase("", "0123456789abcdef", DefaultArgon2Params())
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)

	_, err = FromPassphrase("secret", "short", DefaultArgon2Params())
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)
}

func TestService_KeyIDs(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	id, err := svc.GetKeyID(ctx, "clinical-notes-kek")
	require.NoError(t, err)
	assert.Equal(t, "local:clinical-notes-kek", id)

	first, err := svc.CreateKey(ctx, "clinical-notes-kek")
	require.NoError(t, err)
	second, err := svc.CreateKey(ctx, "clinical-notes-kek")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = svc.GetKeyID(ctx, "")
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)
	_, err = svc.CreateKey(ctx, "")
	assert.ErrorIs(t, err, phierr.ErrInvalidConfiguration)
}

func TestService_WrapUnwrap(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	dek := bytes.Repeat([]byte{1}, 32)

	k1, err := svc.CreateKey(ctx, "kek")
	require.NoError(t, err)
	k2, err := svc.CreateKey(ctx, "kek")
	require.NoError(t, err)

	wrapped, err := svc.EncryptDEK(ctx, k1, dek)
	require.NoError(t, err)

	unwrapped, err := svc.DecryptDEK(ctx, k1, wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)

	// Another key id derives another KEK.
	_, err = svc.DecryptDEK(ctx, k2, wrapped)
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)

	// Another master cannot unwrap.
	other, err := New(bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	_, err = other.DecryptDEK(ctx, k1, wrapped)
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)

	_, err = svc.EncryptDEK(ctx, "arn:aws:kms:x", dek)
	assert.ErrorIs(t, err, phierr.ErrKeyUnavailable)
}

func TestFromPassphrase_Deterministic(t *testing.T) {
	ctx := context.Background()
	params := Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1}

	a, err := FromPassphrase("correct horse", "fisioflow-salt-0001", params)
	require.NoError(t, err)
	b, err := FromPassphrase("correct horse", "fisioflow-salt-0001", params)
	require.NoError(t, err)

	wrapped, err := a.EncryptDEK(ctx, "local:kek", bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)
	dek, err := b.DecryptDEK(ctx, "local:kek", wrapped)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{2}, 32), dek)
}
