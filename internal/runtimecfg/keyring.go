package runtimecfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "substrate.keys.yaml"

// keysFile is the on-disk shape of the Chief-authorization capability
// keyring: a bearer token authorizes one scope (typically a worker agent
// id or "*" for the whole swarm) when presented to the observability
// bridge's HTTP surface, which bridge.Middleware gates.
type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Scopes map[string]scopeKeys `yaml:"scopes"`
}

type scopeKeys struct {
	Keys []string `yaml:"keys"`
}

// Keyring maps bearer tokens to the scope they authorize.
type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keyToScope                map[string]string
}

// ResolveKeysPath returns the keyring file path, honoring the
// SUBSTRATE_KEYS_FILE override used by operators running multiple swarms
// out of the same checkout.
func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("SUBSTRATE_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

// LoadKeyringFromEnv loads (or bootstraps) the keyring at ResolveKeysPath.
func LoadKeyringFromEnv() (*Keyring, error) {
	return LoadKeyring(ResolveKeysPath())
}

// LoadKeyring loads the keyring at path, bootstrapping a dev key granting
// the "*" scope if the file does not yet exist.
func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, err := BootstrapDevKey(path, "*"); err != nil {
				return nil, fmt.Errorf("bootstrap dev key: %w", err)
			}
			data, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read keys file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read keys file: %w", err)
		}
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	ring := &Keyring{
		AllowLocalhostWithoutAuth: true,
		keyToScope:                make(map[string]string),
	}
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for scope, keys := range cfg.Scopes {
		for _, key := range keys.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if existing, ok := ring.keyToScope[key]; ok && existing != scope {
				return nil, fmt.Errorf("key reused across scopes: %q", key)
			}
			ring.keyToScope[key] = scope
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keyToScope: make(map[string]string)}
}

// NewKeyring builds a Keyring directly, for tests.
func NewKeyring(allowLocalhost bool, keyToScope map[string]string) *Keyring {
	clone := make(map[string]string, len(keyToScope))
	for k, v := range keyToScope {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToScope: clone}
}

// ScopeForKey reports the scope a bearer token authorizes, if any.
func (k *Keyring) ScopeForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	scope, ok := k.keyToScope[key]
	return scope, ok
}
