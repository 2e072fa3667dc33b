// Command substratectl is the operator-facing CLI for a running swarm: it
// bootstraps keyring and policy config files, publishes a worker reset
// request into the mailstore, and prints a human-readable status summary
// from the last projected view.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "substratectl",
		Short:         "Operate a running substrate swarm",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInitConfigCmd())
	root.AddCommand(newResetDisabledWorkerCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newRotateLogCmd())
	return root
}
