// Package config loads application configuration from environment variables.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	MasterKey       []byte
	ModelID         string
	UpstreamURL     string
	UpstreamTimeout time.Duration
}


// Load reads configuration from environment variables and returns a validated
// Config. The vault master key comes from AILAB_SECRET_KEY (base64-encoded
// 32 bytes, or any passphrase which is SHA-256 derived) or from the key file
// named by AILAB_SECRET_KEY_FILE (default .ailab_key), which is generated
// with a random key on first start when absent.
// Optional variables with defaults: AILAB_LISTEN_ADDR (127.0.0.1:8080),
// AILAB_DB_PATH (ailab.db), AILAB_MODEL (openrouter/auto),
// AILAB_UPSTREAM_URL (https://openrouter.ai/api/v1),
// AILAB_UPSTREAM_TIMEOUT (30s).
func Load() (*Config, error) {
	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("AILAB_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "ailab.db"
	if v, ok := os.LookupEnv("AILAB_DB_PATH"); ok {
		dbPath = v
	}

	modelID := "openrouter/auto"
	if v, ok := os.LookupEnv("AILAB_MODEL"); ok {
		modelID = v
	}

	upstreamURL := "https://openrouter.ai/api/v1"
	if v, ok := os.LookupEnv("AILAB_UPSTREAM_URL"); ok {
		upstreamURL = strings.TrimSuffix(v, "/")
	}

	upstreamTimeout := 30 * time.Second
	if v, ok := os.LookupEnv("AILAB_UPSTREAM_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("AILAB_UPSTREAM_TIMEOUT has invalid duration %q: %w", v, err)
		}
		upstreamTimeout = parsed
	}

	masterKey, err := loadMasterKey()
	if err != nil {
		return nil, err
	}

	return &Config{
		ListenAddr:      listenAddr,
		DBPath:          dbPath,
		MasterKey:       masterKey,
		ModelID:         modelID,
		UpstreamURL:     upstreamURL,
		UpstreamTimeout: upstreamTimeout,
	}, nil
}

// loadMasterKey resolves the 32-byte vault master key. AILAB_SECRET_KEY wins
// when set; otherwise the key file is read, or created with a fresh random
// key on first start.
func loadMasterKey() ([]byte, error) {
	if v, ok := os.LookupEnv("AILAB_SECRET_KEY"); ok && v != "" {
		return deriveKey(v), nil
	}

	keyFile := ".ailab_key"
	if v, ok := os.LookupEnv("AILAB_SECRET_KEY_FILE"); ok {
		keyFile = v
	}

	data, err := os.ReadFile(keyFile)
	if err == nil {
		return deriveKey(strings.TrimSpace(string(data))), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file %s: %w", keyFile, err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyFile, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key file %s: %w", keyFile, err)
	}

	return key, nil
}

// deriveKey turns key material into exactly 32 bytes. A base64-encoded
// 32-byte value is used directly; anything else is treated as a passphrase
// and hashed.
func deriveKey(material string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(material); err == nil && len(decoded) == 32 {
		return decoded
	}
	sum := sha256.Sum256([]byte(material))
	return sum[:]
}
