package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/projection"
)

type statusFlags struct {
	viewPath string
	noColor  bool
}

func newStatusCmd() *cobra.Command {
	flags := &statusFlags{}
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Print the last projected view of the swarm",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.viewPath, "view-path", "view.json", "path to the projector's view file")
	f.BoolVar(&flags.noColor, "no-color", false, "disable ANSI color even on a terminal")
	return cmd
}

func runStatus(cmd *cobra.Command, flags *statusFlags) error {
	view, err := projection.NewStore(flags.viewPath).Load()
	if err != nil {
		return fmt.Errorf("load view: %w", err)
	}

	out := cmd.OutOrStdout()
	color := !flags.noColor && isatty.IsTerminal(os.Stdout.Fd())

	updatedAt, err := time.Parse(time.RFC3339Nano, view.LastUpdatedAt)
	age := "unknown"
	if err == nil {
		age = humanize.Time(updatedAt)
	}
	fmt.Fprintf(out, "swarm: %s (view updated %s)\n", runningLabel(view.Running, color), age)
	fmt.Fprintf(out, "events processed: %s  queue size: %d  stress: %.2f\n",
		humanize.Comma(view.EventsProcessed), view.EventQueueSize, view.Derived.StressLevel)

	agentIDs := make([]string, 0, len(view.Workers))
	for id := range view.Workers {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	for _, id := range agentIDs {
		w := view.Workers[id]
		fmt.Fprintf(out, "  %-20s %-11s restarts=%d missed_heartbeats=%d last=%s\n",
			id, stateLabel(string(w.State), color), w.RestartCount, w.MissedHeartbeatCount, w.LastEventType)
	}
	return nil
}

func runningLabel(running bool, color bool) string {
	if !color {
		if running {
			return "RUNNING"
		}
		return "STOPPED"
	}
	if running {
		return "\033[32mRUNNING\033[0m"
	}
	return "\033[31mSTOPPED\033[0m"
}

func stateLabel(state string, color bool) string {
	if !color {
		return state
	}
	switch state {
	case "ACTIVE":
		return "\033[32m" + state + "\033[0m"
	case "RESTARTING":
		return "\033[33m" + state + "\033[0m"
	default:
		return "\033[31m" + state + "\033[0m"
	}
}
