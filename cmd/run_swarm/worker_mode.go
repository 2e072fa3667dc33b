package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/gateway"
	"github.com/coredrift/substrate/internal/policy"
	"github.com/coredrift/substrate/internal/runtimecfg"
	"github.com/coredrift/substrate/internal/workerrt"
	"github.com/coredrift/substrate/internal/workspace"
)

// workerModeCommandName is a hidden verb: never invoked directly by an
// operator, only by this binary's own supervisor.Spawner re-execing
// itself once per agent.
const workerModeCommandName = "__worker"

type workerModeFlags struct {
	agentID       string
	consumerID    string
	durable       bool
	worktrees     bool
	mailstoreDB   string
	workspaceRoot string
	repoRoot      string
	policyConfig  string
}

func newWorkerModeCmd() *cobra.Command {
	flags := &workerModeFlags{}
	cmd := &cobra.Command{
		Use:           workerModeCommandName,
		Hidden:        true,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.agentID, "agent-id", "", "agent id this worker process claims events for")
	f.StringVar(&flags.consumerID, "consumer-id", "", "mailstore consumer id used for claim/ack/fail")
	f.BoolVar(&flags.durable, "durable", false, "open the mailstore at --mailstore-db instead of in-memory")
	f.BoolVar(&flags.worktrees, "worktrees", false, "isolate this worker's workspace in its own git worktree")
	f.StringVar(&flags.mailstoreDB, "mailstore-db", "swarm.db", "path to the durable mailstore database")
	f.StringVar(&flags.workspaceRoot, "workspace-root", "./workspaces", "root directory worker workspaces are provisioned under")
	f.StringVar(&flags.repoRoot, "repo-root", ".", "repository root worktrees are created from, when --worktrees is set")
	f.StringVar(&flags.policyConfig, "policy-config", "", "path to a policy config file (defaults built in if unset)")
	return cmd
}

func runWorker(ctx context.Context, flags *workerModeFlags) error {
	if flags.agentID == "" {
		return fmt.Errorf("--agent-id is required")
	}

	store, closeStore, err := openMailstore(flags.mailstoreDB, flags.durable)
	if err != nil {
		return fmt.Errorf("open mailstore: %w", err)
	}
	defer closeStore()

	workspaces, err := buildWorkspaceResolver(flags)
	if err != nil {
		return fmt.Errorf("build workspace resolver: %w", err)
	}

	pol, err := buildPolicy(flags.policyConfig)
	if err != nil {
		return fmt.Errorf("build policy: %w", err)
	}

	gw := gateway.New(store, pol, workspaces)
	runtime := &workerrt.Runtime{AgentID: flags.agentID, Store: store, Gateway: gw}
	worker := workerrt.NewWorker(runtime, workerrt.WorkerOptions{
		ConsumerID:      flags.consumerID,
		TargetAgent:     flags.agentID,
		IncludeUnrouted: true,
	})

	return worker.Run(ctx)
}

// workspaceResolver is satisfied by both workspace.Manager and
// workspace.WorktreeManager; each already provisions its worker's
// directory on first Resolve call.
type workspaceResolver interface {
	Resolve(workerID string) (string, error)
}

func buildWorkspaceResolver(flags *workerModeFlags) (workspaceResolver, error) {
	if flags.worktrees {
		mgr, err := workspace.NewWorktreeManager(flags.repoRoot, flags.workspaceRoot, "", true)
		if err != nil {
			return nil, err
		}
		if _, err := mgr.Resolve(flags.agentID); err != nil {
			return nil, err
		}
		return mgr, nil
	}
	mgr, err := workspace.New(flags.workspaceRoot)
	if err != nil {
		return nil, err
	}
	if _, err := mgr.WorkspaceFor(flags.agentID); err != nil {
		return nil, err
	}
	return mgr, nil
}

func buildPolicy(policyConfigPath string) (*policy.Policy, error) {
	cfg, err := runtimecfg.LoadPolicyConfig(policyConfigPath)
	if err != nil {
		return nil, err
	}
	return policy.New(policy.WithAllowedCommandPrefixes(cfg.CommandPrefixes())), nil
}
