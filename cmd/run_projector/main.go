// Command run_projector tails the mailstore's event and tool-audit history
// and materializes the projection view and inspection index files an
// observability server reads.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/inspection"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/projection"
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

type projectorFlags struct {
	mailstoreDB     string
	viewPath        string
	inspectionPath  string
	pollIntervalSec float64
	fetchLimit      int
}

func newRootCmd() *cobra.Command {
	flags := &projectorFlags{}
	cmd := &cobra.Command{
		Use:           "run_projector",
		Short:         "Materialize the projection view and inspection index from the mailstore",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjector(cmd.Context(), flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.mailstoreDB, "mailstore-db", "swarm.db", "path to the durable mailstore database")
	f.StringVar(&flags.viewPath, "view-path", "view.json", "path the projection view is atomically written to")
	f.StringVar(&flags.inspectionPath, "inspection-path", "inspection.json", "path the inspection index is atomically written to")
	f.Float64Var(&flags.pollIntervalSec, "poll-interval", 1.0, "seconds between projector ticks")
	f.IntVar(&flags.fetchLimit, "fetch-limit", 0, "maximum rows fetched per tick (0 uses the materializer default)")
	return cmd
}

func runProjector(ctx context.Context, flags *projectorFlags) error {
	store, err := sqlite.New(flags.mailstoreDB)
	if err != nil {
		return fmt.Errorf("open mailstore: %w", err)
	}
	defer store.Close()

	var opts []projection.Option
	if flags.fetchLimit > 0 {
		opts = append(opts, projection.WithFetchLimit(flags.fetchLimit))
	}
	materializer := projection.New(store, opts...)
	viewStore := projection.NewStore(flags.viewPath)
	indexStore := inspection.NewStore(flags.inspectionPath)

	pollInterval := time.Duration(flags.pollIntervalSec * float64(time.Second))
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := tick(ctx, store, materializer, viewStore, indexStore, flags.fetchLimit); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func tick(ctx context.Context, store *sqlite.Store, m *projection.Materializer, viewStore *projection.Store, indexStore *inspection.Store, fetchLimit int) error {
	prev, err := viewStore.Load()
	if err != nil {
		return fmt.Errorf("load view: %w", err)
	}
	next, err := m.Tick(ctx, prev)
	if err != nil {
		return fmt.Errorf("tick projection: %w", err)
	}
	saved, err := viewStore.Save(next)
	if err != nil {
		return fmt.Errorf("save view: %w", err)
	}
	if err := inspection.Tick(ctx, store, indexStore, saved, fetchLimit, time.Now()); err != nil {
		return fmt.Errorf("tick inspection index: %w", err)
	}
	return nil
}
