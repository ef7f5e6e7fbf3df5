//go:build !linux && !windows

package utils

import (
	"os"
	"syscall"
	"time"
)

// FileAtime returns the last access time of path (BSD/darwin stat layout).
func FileAtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	stat := info.Sys().(*syscall.Stat_t)
	return time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec), nil
}
