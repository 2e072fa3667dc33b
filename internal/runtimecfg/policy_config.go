package runtimecfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PolicyConfig is the YAML-backed file overriding the tool gateway's
// defaults: allowed command prefixes, default lease seconds, and the
// endpoint allowlist patterns consulted per action kind. A missing file
// yields DefaultPolicyConfig(); unlike the Chief-authorization keyring,
// loading never writes a file.
type PolicyConfig struct {
	DefaultLeaseSeconds   int      `yaml:"default_lease_seconds"`
	AllowedCommandPrefixes []string `yaml:"allowed_command_prefixes"`
	EndpointAllowlist      map[string][]string `yaml:"endpoint_allowlist"` // action kind -> glob patterns
}

// DefaultPolicyConfig mirrors the reference policy's built-in defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DefaultLeaseSeconds: 60,
		AllowedCommandPrefixes: []string{
			"git ", "go ", "npm ", "pnpm ", "yarn ", "python ", "python3 ",
			"pytest", "ls", "cat ", "grep ", "rg ", "find ",
		},
		EndpointAllowlist: map[string][]string{},
	}
}

// LoadPolicyConfig reads path, returning DefaultPolicyConfig() if it does
// not exist.
func LoadPolicyConfig(path string) (PolicyConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPolicyConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPolicyConfig(), nil
		}
		return PolicyConfig{}, fmt.Errorf("read policy config: %w", err)
	}
	cfg := DefaultPolicyConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PolicyConfig{}, fmt.Errorf("parse policy config: %w", err)
	}
	return cfg, nil
}

// CommandPrefixes tokenizes each whitespace-joined prefix string
// ("git ", "python3 ") into the argv-prefix form internal/policy expects
// ([]string{"git"}, []string{"python3"}).
func (c PolicyConfig) CommandPrefixes() [][]string {
	out := make([][]string, 0, len(c.AllowedCommandPrefixes))
	for _, prefix := range c.AllowedCommandPrefixes {
		fields := strings.Fields(prefix)
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields)
	}
	return out
}

// WritePolicyConfig persists cfg to path as YAML, creating parent dirs as
// needed. Used by the substratectl init-config verb.
func WritePolicyConfig(path string, cfg PolicyConfig) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal policy config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create policy config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write policy config: %w", err)
	}
	return nil
}
