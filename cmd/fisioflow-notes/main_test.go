package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fisioflow "github.com/rafaelminatto1/fisioflow-51658291-sub019"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fisioflow.DefaultConfig()
	cfg.Store.Backend = fisioflow.StoreMemory
	cfg.Keys.StorePath = filepath.Join(dir, "keys.db")
	cfg.KMS.MasterKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("m", 32)))
	cfg.HTTP.JWTSigningKey = strings.Repeat("j", 32)
	cfg.Log.Level = "error"

	path := filepath.Join(dir, "fisioflow.yaml")
	require.NoError(t, fisioflow.SaveConfig(cfg, path))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, fisioflow.Version)
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "config", "validate", "--config", path, "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")
	assert.Contains(t, out, "REDACTED")
	assert.NotContains(t, out, strings.Repeat("j", 32))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store:\n  backend: mongo\n"), 0o600))
	_, err = run(t, "config", "validate", "--config", bad)
	assert.ErrorIs(t, err, fisioflow.ErrInvalidConfiguration)
}

func TestKeysRotateAndRewrap(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "keys", "rotate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "version 2")

	out, err = run(t, "keys", "rewrap", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "re-wrapped 0 owner keys")
}

func TestToken(t *testing.T) {
	path := writeConfig(t)
	out, err := run(t, "token", "u1", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))
}
