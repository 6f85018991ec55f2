package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "inboxdigest"

// Keyring keys for the secrets inboxdigest stores.
const (
	KeyGmailToken   = "gmail-oauth-token"
	KeyIMAPPassword = "imap-password"
	KeyGeminiAPI    = "gemini-api-key"
	KeyAnthropicAPI = "anthropic-api-key"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open returns a Store backed by the system keyring, falling back to an
// encrypted file under ~/.config/inboxdigest/credentials.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  credentialsDir(),
		FilePasswordFunc:         keyring.FixedStringPrompt("inboxdigest-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.config/inboxdigest/credentials"
	}
	return filepath.Join(home, ".config", "inboxdigest", "credentials")
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key. Deleting a missing key is not an
// error.
func (s *Store) Delete(key string) error {
	err := s.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Lookup returns the environment variable envVar when set, otherwise the
// keyring value for key. A missing value yields "" and no error.
func (s *Store) Lookup(envVar, key string) (string, error) {
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	if s == nil {
		return "", nil
	}
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
