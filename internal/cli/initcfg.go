// Package cli holds the bootstrap verbs shared by the substratectl operator
// CLI: generating a Chief-authorization key for a scope, and writing a
// default policy config file.
package cli

import (
	"fmt"
	"os"

	"github.com/coredrift/substrate/internal/runtimecfg"
)

// InitKeysFile generates a Chief-authorization key granting scope and
// writes a new keyring file at path. An existing keyring file is left
// untouched and reported as an error.
func InitKeysFile(path, scope string) (string, error) {
	result, err := runtimecfg.BootstrapDevKey(path, scope)
	if err != nil {
		return "", err
	}
	if !result.Created {
		return "", fmt.Errorf("keys file %q already exists; edit it directly to add a scope", path)
	}
	return result.Key, nil
}

// InitPolicyConfig writes the default policy config file at path unless one
// already exists.
func InitPolicyConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("policy config %q already exists", path)
	}
	cfg := runtimecfg.DefaultPolicyConfig()
	return runtimecfg.WritePolicyConfig(path, cfg)
}
