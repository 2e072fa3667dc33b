package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coredrift/substrate/internal/corelog"
)

type rotateLogFlags struct {
	logPath string
}

func newRotateLogCmd() *cobra.Command {
	flags := &rotateLogFlags{}
	cmd := &cobra.Command{
		Use:           "rotate-log",
		Short:         "Gzip-compress and truncate a corelog JSONL file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotateLog(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.logPath, "log-path", "", "path to the JSONL log file to rotate")
	_ = cmd.MarkFlagRequired("log-path")
	return cmd
}

func runRotateLog(cmd *cobra.Command, flags *rotateLogFlags) error {
	suffix := "." + time.Now().UTC().Format("20060102T150405Z")
	if err := corelog.RotateFile(flags.logPath, suffix); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rotated %s -> %s%s\n", flags.logPath, flags.logPath+".gz", suffix)
	return nil
}
