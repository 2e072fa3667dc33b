// Command run_swarm spawns and supervises one worker subprocess per agent
// id, re-execing its own binary in worker mode for each one.
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

// newRootCmd wires run_swarm's own flags directly onto the root command
// (spec's CLI line puts them there, with no subcommand), plus a hidden
// worker-mode command this binary re-execs itself into for each spawned
// subprocess.
func newRootCmd() *cobra.Command {
	root := newSwarmCmd()
	root.AddCommand(newWorkerModeCmd())
	return root
}
