package driven

import (
	"context"
	"errors"

	"github.com/mbrandt/ailab/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by SecretStore operations when no
// master key could be established at startup.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set AILAB_SECRET_KEY")

// ErrSecretNotFound is returned when no secret exists for the requested name.
var ErrSecretNotFound = errors.New("secret not found")

// ErrDecryptFailed is returned when a stored secret record cannot be
// decrypted (corrupted or tampered ciphertext, or a key change). The failure
// is scoped to that one record; other secrets remain readable.
var ErrDecryptFailed = errors.New("secret decryption failed")

// SecretStore defines the driven port for the encrypted credential vault.
// The adapter layer owns encryption and decryption; this interface operates
// on plaintext values at the domain boundary. Plaintext is never persisted
// and never returned by ListNames.
type SecretStore interface {
	// ListNames returns the stored secret names with existence flags,
	// ordered by name. Values are never included.
	ListNames(ctx context.Context) ([]model.SecretName, error)

	// Set encrypts plaintext and stores or replaces the secret for name
	// atomically. Each write uses a fresh nonce, so setting the same
	// plaintext twice produces different ciphertext at rest.
	Set(ctx context.Context, name, plaintext string) error

	// GetPlaintext decrypts and returns the secret for name. Returns
	// ErrSecretNotFound if no record exists and ErrDecryptFailed if the
	// record cannot be decrypted. Internal callers only; never wired
	// directly to a client-facing endpoint.
	GetPlaintext(ctx context.Context, name string) (string, error)

	// Delete removes the secret for name. Returns ErrSecretNotFound if no
	// record existed.
	Delete(ctx context.Context, name string) error
}
