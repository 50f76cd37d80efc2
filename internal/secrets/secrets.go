// Package secrets resolves credentials from the environment and the OS
// keychain.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName is the keychain namespace adpilot stores credentials under.
const ServiceName = "adpilot"

// Credential names. Each is also the environment variable that overrides it.
const (
	AnthropicAPIKey         = "ANTHROPIC_API_KEY"
	ResearchAPIKey          = "ADPILOT_RESEARCH_API_KEY"
	SlackWebhookURL         = "ADPILOT_SLACK_WEBHOOK_URL"
	WebhookJWTSecret        = "ADPILOT_JWT_SECRET"
	GoogleAdsDeveloperToken = "GOOGLE_ADS_DEVELOPER_TOKEN"
)

// Known lists every credential name in display order.
var Known = []string{
	AnthropicAPIKey,
	ResearchAPIKey,
	SlackWebhookURL,
	WebhookJWTSecret,
	GoogleAdsDeveloperToken,
}

var (
	// ErrNotFound means neither the environment nor the keychain has the value.
	ErrNotFound = errors.New("secret not found")

	// ErrNoKeychain is returned by Set and Delete when no keychain backend is available.
	ErrNoKeychain = errors.New("no keychain backend available")
)

// Store resolves credentials: environment first, then the keychain.
// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	ring   keyring.Keyring
	getenv func(string) string
}

// Open opens the platform keychain. When no backend is usable the Store
// still resolves from the environment and the returned error says why the
// keychain is missing.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
		PassPrefix:               ServiceName,
		WinCredPrefix:            ServiceName,
	})
	if err != nil {
		return New(nil), fmt.Errorf("open keychain: %w", err)
	}
	return New(ring), nil
}

// New creates a Store over ring. A nil ring resolves from the environment only.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring, getenv: os.Getenv}
}

// Get returns the named credential.
func (s *Store) Get(name string) (string, error) {
	if v := strings.TrimSpace(s.getenv(name)); v != "" {
		return v, nil
	}

	s.mu.RLock()
	ring := s.ring
	s.mu.RUnlock()
	if ring == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	item, err := ring.Get(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read %s from keychain: %w", name, err)
	}
	return string(item.Data), nil
}

// Lookup returns the named credential or "" when it is not set anywhere.
// Keychain failures other than a missing key are returned.
func (s *Store) Lookup(name string) (string, error) {
	v, err := s.Get(name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Set stores value in the keychain.
func (s *Store) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring == nil {
		return ErrNoKeychain
	}
	err := s.ring.Set(keyring.Item{
		Key:         name,
		Data:        []byte(value),
		Label:       ServiceName + " " + name,
		Description: "adpilot credential",
	})
	if err != nil {
		return fmt.Errorf("store %s in keychain: %w", name, err)
	}
	return nil
}

// Delete removes the named credential from the keychain. Deleting a missing
// key is not an error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring == nil {
		return ErrNoKeychain
	}
	if err := s.ring.Remove(name); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("delete %s from keychain: %w", name, err)
	}
	return nil
}

// Source reports where name would be resolved from: "env", "keychain" or "".
func (s *Store) Source(name string) string {
	if strings.TrimSpace(s.getenv(name)) != "" {
		return "env"
	}
	s.mu.RLock()
	ring := s.ring
	s.mu.RUnlock()
	if ring == nil {
		return ""
	}
	if _, err := ring.Get(name); err == nil {
		return "keychain"
	}
	return ""
}
