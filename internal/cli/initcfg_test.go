package cli

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

type testKeysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Scopes map[string]struct {
		Keys []string `yaml:"keys"`
	} `yaml:"scopes"`
}

func TestInitKeysFileCreatesScopeKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	key, err := InitKeysFile(path, "forge")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if key == "" {
		t.Fatalf("expected generated key")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read keys file: %v", err)
	}
	var cfg testKeysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	keys := cfg.Scopes["forge"].Keys
	if len(keys) == 0 || keys[0] != key {
		t.Fatalf("expected forge key %q, got %+v", key, keys)
	}
}

func TestInitKeysFileRejectsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	if _, err := InitKeysFile(path, "forge"); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := InitKeysFile(path, "recon"); err == nil {
		t.Fatalf("expected error on second init against existing file")
	}
}

func TestInitPolicyConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := InitPolicyConfig(path); err != nil {
		t.Fatalf("init policy config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected policy file: %v", err)
	}
}
