package config_test

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbrandt/ailab/internal/config"
)

// setKeyEnv points the key resolution at an isolated temp file so tests never
// touch a real .ailab_key in the working directory.
func setKeyEnv(t *testing.T) string {
	t.Helper()
	keyFile := filepath.Join(t.TempDir(), "key")
	t.Setenv("AILAB_SECRET_KEY_FILE", keyFile)
	return keyFile
}

func TestLoadDefaults(t *testing.T) {
	setKeyEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "ailab.db", cfg.DBPath)
	assert.Equal(t, "openrouter/auto", cfg.ModelID)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.UpstreamURL)
	assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
	assert.Len(t, cfg.MasterKey, 32)
}

func TestLoadOverrides(t *testing.T) {
	setKeyEnv(t)
	t.Setenv("AILAB_LISTEN_ADDR", "0.0.0.0:9999")
	t.Setenv("AILAB_DB_PATH", "/tmp/test.db")
	t.Setenv("AILAB_MODEL", "meta-llama/llama-3-8b")
	t.Setenv("AILAB_UPSTREAM_URL", "http://localhost:4000/v1/")
	t.Setenv("AILAB_UPSTREAM_TIMEOUT", "90s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "meta-llama/llama-3-8b", cfg.ModelID)
	assert.Equal(t, "http://localhost:4000/v1", cfg.UpstreamURL, "trailing slash is stripped")
	assert.Equal(t, 90*time.Second, cfg.UpstreamTimeout)
}

func TestLoadInvalidTimeout(t *testing.T) {
	setKeyEnv(t)
	t.Setenv("AILAB_UPSTREAM_TIMEOUT", "not-a-duration")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AILAB_UPSTREAM_TIMEOUT")
}

func TestMasterKeyFromEnvBase64(t *testing.T) {
	setKeyEnv(t)
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	t.Setenv("AILAB_SECRET_KEY", base64.StdEncoding.EncodeToString(raw))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, raw, cfg.MasterKey)
}

func TestMasterKeyFromPassphrase(t *testing.T) {
	setKeyEnv(t)
	t.Setenv("AILAB_SECRET_KEY", "hunter2")

	cfg, err := config.Load()
	require.NoError(t, err)

	want := sha256.Sum256([]byte("hunter2"))
	assert.Equal(t, want[:], cfg.MasterKey)
}

func TestMasterKeyFileGeneratedOnFirstStart(t *testing.T) {
	keyFile := setKeyEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Len(t, cfg.MasterKey, 32)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second load reads the same key back.
	cfg2, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.MasterKey, cfg2.MasterKey)
}

func TestEnvKeyWinsOverKeyFile(t *testing.T) {
	keyFile := setKeyEnv(t)
	require.NoError(t, os.WriteFile(keyFile, []byte("file-passphrase\n"), 0o600))
	t.Setenv("AILAB_SECRET_KEY", "env-passphrase")

	cfg, err := config.Load()
	require.NoError(t, err)

	want := sha256.Sum256([]byte("env-passphrase"))
	assert.Equal(t, want[:], cfg.MasterKey)
}
