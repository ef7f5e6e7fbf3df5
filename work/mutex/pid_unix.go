//go:build !windows

package mutex

import (
	"syscall"
)

// PidAlive reports whether a process with the given pid currently exists.
func PidAlive(pid int) bool {
	// Signal 0 performs the permission/existence check without delivering.
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
