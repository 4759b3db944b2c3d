package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	secretService       = "sangam"
	secretOpenRouterKey = "openrouter_api_key"
	secretAPIToken      = "api_token"
)

// ErrSecretNotFound is returned when a secret has never been stored.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore reads and writes named secrets.
type SecretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

// fileSecrets keeps secrets in a 0600 JSON file under the data directory.
type fileSecrets struct {
	mu   sync.Mutex
	path string
}

// NewSecretStore returns the secrets file at $XDG_DATA_HOME/sangam/secrets.json.
func NewSecretStore() SecretStore {
	return &fileSecrets{path: secretsFilePath()}
}

func newFileSecrets(path string) *fileSecrets {
	return &fileSecrets{path: path}
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sangam", "secrets.json")
}

func (s *fileSecrets) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (s *fileSecrets) Get(account string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", err
	}
	val, ok := secrets[secretService][account]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, account)
	}
	return val, nil
}

func (s *fileSecrets) Set(account, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secrets, err := s.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[secretService] == nil {
		secrets[secretService] = make(map[string]string)
	}
	secrets[secretService][account] = value

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

// GetAPIToken returns the bearer token clients use against the HTTP API,
// generating and persisting one on first use. SANGAM_API_TOKEN wins when set.
func GetAPIToken(s SecretStore) (string, error) {
	if tok := os.Getenv("SANGAM_API_TOKEN"); tok != "" {
		return tok, nil
	}
	tok, err := s.Get(secretAPIToken)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading API token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := s.Set(secretAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SetOpenRouterKey stores the OpenRouter API key in the secrets file.
func SetOpenRouterKey(s SecretStore, key string) error {
	return s.Set(secretOpenRouterKey, key)
}
