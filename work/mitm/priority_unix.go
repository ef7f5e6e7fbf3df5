//go:build !windows

package mitm

import "syscall"

// raisePriority bumps the engine process priority so listener latency stays
// low while a cache build is running. Failure is ignored, running at normal
// priority is fine.
func raisePriority() {
	syscall.Setpriority(syscall.PRIO_PROCESS, 0, -10)
}
