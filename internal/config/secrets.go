package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrSecretNotFound is returned for a secret that was never stored.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore keeps named secrets out of the regular config.
type SecretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
}

// NewSecretStore returns the file-backed store at Dir()/secrets.yaml.
func NewSecretStore() SecretStore {
	return fileSecrets{path: filepath.Join(Dir(), "secrets.yaml")}
}

// fileSecrets is a flat name: value YAML file readable only by its owner.
type fileSecrets struct {
	path string
}

func (f fileSecrets) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}
	secrets := map[string]string{}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return secrets, nil
}

func (f fileSecrets) Get(name string) (string, error) {
	secrets, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := secrets[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

func (f fileSecrets) Set(name, value string) error {
	secrets, err := f.load()
	if err != nil {
		return err
	}
	secrets[name] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	data, err := yaml.Marshal(secrets)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

const (
	apiTokenSecret = "api_token"
	apiTokenEnv    = "SHOPBOT_API_TOKEN"
)

// GetAPIToken returns the bearer token guarding the HTTP API. SHOPBOT_API_TOKEN
// wins; otherwise the token is read from secrets, and generated and stored
// there on first use.
func GetAPIToken(secrets SecretStore) (string, error) {
	if tok := os.Getenv(apiTokenEnv); tok != "" {
		return tok, nil
	}
	tok, err := secrets.Get(apiTokenSecret)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("loading API token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := secrets.Set(apiTokenSecret, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
