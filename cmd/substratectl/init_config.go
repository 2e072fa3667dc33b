package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/cli"
)

type initConfigFlags struct {
	keysPath   string
	policyPath string
	scope      string
}

func newInitConfigCmd() *cobra.Command {
	flags := &initConfigFlags{}
	cmd := &cobra.Command{
		Use:           "init-config",
		Short:         "Bootstrap a dev keyring and default policy config",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitConfig(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.keysPath, "keys-path", "substrate.keys.yaml", "keyring file to create")
	f.StringVar(&flags.policyPath, "policy-path", "substrate.policy.yaml", "policy config file to create")
	f.StringVar(&flags.scope, "scope", "*", "scope the generated key authorizes")
	return cmd
}

func runInitConfig(cmd *cobra.Command, flags *initConfigFlags) error {
	key, err := cli.InitKeysFile(flags.keysPath, flags.scope)
	if err != nil {
		return fmt.Errorf("init keys file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (scope %q)\nkey: %s\n", flags.keysPath, flags.scope, key)

	if err := cli.InitPolicyConfig(flags.policyPath); err != nil {
		return fmt.Errorf("init policy config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flags.policyPath)
	return nil
}
