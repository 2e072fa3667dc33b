package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/core"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
)

type resetDisabledWorkerFlags struct {
	mailstoreDB string
	agentID     string
	reason      string
}

func newResetDisabledWorkerCmd() *cobra.Command {
	flags := &resetDisabledWorkerFlags{}
	cmd := &cobra.Command{
		Use:           "reset-disabled-worker",
		Short:         "Clear a restart-storm disablement and restart the named worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResetDisabledWorker(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.mailstoreDB, "mailstore-db", "swarm.db", "path to the durable mailstore database")
	f.StringVar(&flags.agentID, "agent-id", "", "agent id of the disabled worker to reset")
	f.StringVar(&flags.reason, "reason", "operator reset", "justification recorded on the reset request event")
	_ = cmd.MarkFlagRequired("agent-id")
	return cmd
}

// runResetDisabledWorker publishes a WORKER_RESET_REQUESTED event targeted
// at flags.agentID. It never touches the supervisor process directly: the
// running supervisor picks the event up on its next poll and clears the
// disablement itself.
func runResetDisabledWorker(cmd *cobra.Command, flags *resetDisabledWorkerFlags) error {
	if flags.agentID == "" {
		return fmt.Errorf("--agent-id is required")
	}

	store, err := sqlite.New(flags.mailstoreDB)
	if err != nil {
		return fmt.Errorf("open mailstore: %w", err)
	}
	defer store.Close()

	payload, _ := json.Marshal(map[string]string{"agent_id": flags.agentID})
	id, err := store.Publish(cmd.Context(), core.EventWorkerResetRequested, "substratectl", payload, flags.agentID, "", flags.reason)
	if err != nil {
		return fmt.Errorf("publish reset request: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "published WORKER_RESET_REQUESTED (event %d) for %s\n", id, flags.agentID)
	return nil
}
