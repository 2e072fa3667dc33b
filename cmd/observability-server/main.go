// Command observability-server exposes the projection view and inspection
// index the core's projector writes, over a small HTTP/WebSocket surface.
// It is a thin read-only consumer of those files: it never touches the
// mailstore's mutating contract and holds no swarm-control authority.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/runtimecfg"
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

type serverFlags struct {
	host           string
	port           int
	mailstoreDB    string
	viewPath       string
	inspectionPath string
	socketPath     string
	keysPath       string
	pollIntervalMS int
}

func newRootCmd() *cobra.Command {
	flags := &serverFlags{}
	cmd := &cobra.Command{
		Use:           "observability-server",
		Short:         "Serve the projection view and inspection index over HTTP and WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.host, "host", "127.0.0.1", "address to listen on")
	f.IntVar(&flags.port, "port", 8787, "port to listen on")
	f.StringVar(&flags.mailstoreDB, "mailstore-db", "swarm.db", "mailstore database path (unused beyond startup validation; the server reads the projector's files)")
	f.StringVar(&flags.viewPath, "view-path", "view.json", "path to the projection view file run_projector writes")
	f.StringVar(&flags.inspectionPath, "inspection-path", "inspection.json", "path to the inspection index file run_projector writes")
	f.StringVar(&flags.socketPath, "socket-path", "", "optional unix socket to also listen on")
	f.StringVar(&flags.keysPath, "keys-path", "", "Chief-authorization keyring path (defaults to localhost-only access if unset)")
	f.IntVar(&flags.pollIntervalMS, "poll-interval-ms", 250, "how often to check the view file for changes before broadcasting")
	return cmd
}

func loadKeyring(path string) (*runtimecfg.Keyring, error) {
	if path == "" {
		return runtimecfg.NewKeyring(true, nil), nil
	}
	return runtimecfg.LoadKeyring(path)
}
