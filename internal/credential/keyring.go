// Package credential keeps the backend session tokens in the system
// keyring between runs.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/auditwatch/internal/backend"
)

const serviceName = "auditwatch"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/auditwatch/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("auditwatch-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Vault stores one backend session per project URL.
type Vault struct {
	ring keyring.Keyring
}

// Open returns a Vault over the system keyring.
func Open() (*Vault, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return NewVault(ring), nil
}

// NewVault returns a Vault over ring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

func sessionKey(projectURL string) string {
	return "session:" + projectURL
}

// SaveSession stores s for the project.
func (v *Vault) SaveSession(projectURL string, s *backend.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	err = v.ring.Set(keyring.Item{
		Key:         sessionKey(projectURL),
		Data:        data,
		Label:       "auditwatch session",
		Description: projectURL,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", sessionKey(projectURL), err)
	}
	return nil
}

// LoadSession returns the stored session for the project, or an error
// wrapping backend.ErrNoSession when none is stored.
func (v *Vault) LoadSession(projectURL string) (*backend.Session, error) {
	item, err := v.ring.Get(sessionKey(projectURL))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("loading session for %s: %w", projectURL, backend.ErrNoSession)
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", sessionKey(projectURL), err)
	}

	var s backend.Session
	if err := json.Unmarshal(item.Data, &s); err != nil {
		return nil, fmt.Errorf("decoding stored session: %w", err)
	}
	return &s, nil
}

// Forget removes the stored session. A missing session is not an error.
func (v *Vault) Forget(projectURL string) error {
	err := v.ring.Remove(sessionKey(projectURL))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", sessionKey(projectURL), err)
	}
	return nil
}
