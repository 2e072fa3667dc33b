package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/corelog"
	"github.com/coredrift/substrate/internal/mailstore/sqlite"
	"github.com/coredrift/substrate/internal/supervisor"
)

type swarmFlags struct {
	agents          []string
	durable         bool
	worktrees       bool
	durationSeconds int
	mailstoreDB     string
	workspaceRoot   string
	repoRoot        string
	policyConfig    string
	logPath         string
}

func newSwarmCmd() *cobra.Command {
	flags := &swarmFlags{}
	cmd := &cobra.Command{
		Use:           "run_swarm",
		Short:         "Spawn and supervise one worker subprocess per agent id",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwarm(cmd.Context(), flags)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&flags.agents, "agents", nil, "agent ids to spawn, one worker subprocess each")
	f.BoolVar(&flags.durable, "durable", false, "persist the mailstore to --mailstore-db instead of an in-memory database")
	f.BoolVar(&flags.worktrees, "worktrees", false, "isolate each worker in its own git worktree instead of a plain directory")
	f.IntVar(&flags.durationSeconds, "duration-seconds", 0, "stop the swarm after N seconds (0 runs until interrupted)")
	f.StringVar(&flags.mailstoreDB, "mailstore-db", "swarm.db", "path to the durable mailstore database")
	f.StringVar(&flags.workspaceRoot, "workspace-root", "./workspaces", "root directory worker workspaces are provisioned under")
	f.StringVar(&flags.repoRoot, "repo-root", ".", "repository root worktrees are created from, when --worktrees is set")
	f.StringVar(&flags.policyConfig, "policy-config", "", "path to a policy config file (defaults built in if unset)")
	f.StringVar(&flags.logPath, "log-path", "", "structured JSONL log destination (stderr if unset)")
	return cmd
}

func runSwarm(ctx context.Context, flags *swarmFlags) error {
	if len(flags.agents) == 0 {
		return fmt.Errorf("--agents must name at least one agent id")
	}

	store, closeStore, err := openMailstore(flags.mailstoreDB, flags.durable)
	if err != nil {
		return fmt.Errorf("open mailstore: %w", err)
	}
	defer closeStore()

	logger, closeLog, err := openLogger(flags.logPath)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer closeLog()
	store.SetSlowQueryLogger(logger)

	mailstore := sqlite.MailStore(store)
	if flags.durable {
		// Only the durable, file-backed mailstore sees the WAL lock
		// contention the breaker and retry loop exist for; the in-memory
		// store used for dry runs has no concurrent file access to guard.
		resilient := sqlite.NewResilient(store)
		resilient.CircuitBreaker().SetOnTransition(func(from, to sqlite.BreakerState) {
			_ = logger.Log(time.Now(), "mailstore_circuit_breaker", map[string]any{
				"from": from.String(),
				"to":   to.String(),
			})
		})
		mailstore = resilient
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	specs := make([]supervisor.WorkerSpec, 0, len(flags.agents))
	for _, agent := range flags.agents {
		// Consumer ids carry a run-scoped uuid suffix so a restarted swarm
		// never reuses a lease identity an earlier run may have left stale.
		specs = append(specs, supervisor.WorkerSpec{AgentID: agent, ConsumerID: agent + "-" + uuid.NewString()})
	}

	sup := supervisor.New(mailstore, workerSpawner(self, flags), supervisor.Options{Logger: logger})

	runCtx := ctx
	var cancel context.CancelFunc
	if flags.durationSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(flags.durationSeconds)*time.Second)
		defer cancel()
	}

	if err := sup.Start(runCtx, specs); err != nil {
		_ = sup.Stop(context.Background())
		return fmt.Errorf("start swarm: %w", err)
	}

	return sup.Run(runCtx, 0)
}

// workerSpawner builds the supervisor.Spawner that re-execs self into
// worker mode for each agent, forwarding the flags a worker subprocess
// needs to reconstruct its own gateway and workspace.
func workerSpawner(self string, flags *swarmFlags) supervisor.Spawner {
	return func(ctx context.Context, spec supervisor.WorkerSpec) (*exec.Cmd, error) {
		args := []string{
			workerModeCommandName,
			"--agent-id", spec.AgentID,
			"--consumer-id", spec.ConsumerID,
			"--mailstore-db", flags.mailstoreDB,
			"--workspace-root", flags.workspaceRoot,
			"--repo-root", flags.repoRoot,
			"--policy-config", flags.policyConfig,
		}
		if flags.durable {
			args = append(args, "--durable")
		}
		if flags.worktrees {
			args = append(args, "--worktrees")
		}
		cmd := exec.CommandContext(ctx, self, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("spawn worker %s: %w", spec.AgentID, err)
		}
		return cmd, nil
	}
}

func openMailstore(path string, durable bool) (*sqlite.Store, func(), error) {
	if !durable {
		store, err := sqlite.NewInMemory()
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func openLogger(path string) (*corelog.Logger, func(), error) {
	if path == "" {
		return corelog.New(os.Stderr), func() {}, nil
	}
	logger, f, err := corelog.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { f.Close() }, nil
}
