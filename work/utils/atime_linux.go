//go:build linux

package utils

import (
	"os"
	"syscall"
	"time"
)

// FileAtime returns the last access time of path.
func FileAtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	stat := info.Sys().(*syscall.Stat_t)
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec), nil
}
