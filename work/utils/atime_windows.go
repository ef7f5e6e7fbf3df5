//go:build windows

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
	attr := info.Sys().(*syscall.Win32FileAttributeData)
	return time.Unix(0, attr.LastAccessTime.Nanoseconds()), nil
}
