//go:build unix

package supervisor

import (
	"os"

	"golang.org/x/sys/unix"
)

// signalGraceful asks proc to exit by sending SIGTERM via x/sys/unix rather
// than os.Process.Signal, so a negative pid (process group) could be wired
// in later without changing call sites.
func signalGraceful(proc *os.Process) error {
	return unix.Kill(proc.Pid, unix.SIGTERM)
}

// signalKill forces proc to exit immediately.
func signalKill(proc *os.Process) error {
	return unix.Kill(proc.Pid, unix.SIGKILL)
}
