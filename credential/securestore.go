// Package credential provides two-tier persistence for tunnel auth tokens.
// The tool's own config file is the durable source of truth; the system
// keyring acts as a fast cache that is repaired from the file when it has
// been invalidated (for example by an application signing-identity change).
package credential

import (
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/adlara/tunnel-manager/common"
)

// SecureStore is a keyed secret store scoped to the calling application.
// Implementations may use the system keyring, an encrypted file, or an
// in-memory map for tests.
type SecureStore interface {
	// Get retrieves the secret stored under service/key.
	Get(service, key string) (string, error)
	// Set stores a secret under service/key, replacing any existing value.
	Set(service, key, value string) error
	// Delete removes the secret stored under service/key.
	Delete(service, key string) error
}

// systemKeyring stores secrets in the operating system keyring.
type systemKeyring struct{}

// NewSystemKeyring returns a SecureStore backed by the system keyring.
func NewSystemKeyring() SecureStore {
	return systemKeyring{}
}

func (systemKeyring) Get(service, key string) (string, error) {
	secret, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", common.ErrCredentialNotFound
		}
		return "", common.WrapError(err, "keyring get failed")
	}
	return secret, nil
}

func (systemKeyring) Set(service, key, value string) error {
	if err := keyring.Set(service, key, value); err != nil {
		return common.WrapError(err, "keyring set failed")
	}
	return nil
}

func (systemKeyring) Delete(service, key string) error {
	if err := keyring.Delete(service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return common.WrapError(err, "keyring delete failed")
	}
	return nil
}
