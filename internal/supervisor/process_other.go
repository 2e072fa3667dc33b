//go:build !unix

package supervisor

import "os"

// signalGraceful on non-unix platforms has no SIGTERM equivalent; Kill is
// the closest os.Process offers.
func signalGraceful(proc *os.Process) error {
	return proc.Kill()
}

func signalKill(proc *os.Process) error {
	return proc.Kill()
}
