package accounts

import (
	"fmt"
	"os"
	"time"

	"sfvip-launcher/work/retry"
	"sfvip-launcher/work/utils"
)

// waitCadence is the fixed retry cadence for atime polling.
const waitCadence = 100 * time.Millisecond

// WaitBeingRead succeeds once the database atime becomes strictly greater
// than the atime observed after our last save, which is evidence the player
// has opened the file. Polls on a fixed cadence up to timeout.
func (s *Store) WaitBeingRead(timeout time.Duration) error {
	baseline := s.lastSavedAtime
	if baseline.IsZero() {
		if atime, err := utils.FileAtime(s.Path); err == nil {
			baseline = atime
		}
	}
	return retry.WithDeadline(func() error {
		atime, err := utils.FileAtime(s.Path)
		if err != nil {
			return err
		}
		if !atime.After(baseline) {
			return fmt.Errorf("accounts: database not read yet")
		}
		return nil
	}, waitCadence, timeout)
}

// touchMarker bumps the shared event-time marker to now, under its own
// mutex. The marker file exists purely for its mtime: every launcher
// instance writes it on internal database saves, so the watcher can tell an
// internal write from an external one.
func (s *Store) touchMarker() {
	s.markerMutex.With(s.lockTimeout, func() error {
		now := time.Now()
		if err := os.Chtimes(s.markerPath, now, now); err != nil {
			f, err := os.OpenFile(s.markerPath, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			f.Close()
		}
		return nil
	})
}

// markerTime reads the marker mtime; the zero time when it was never written.
func (s *Store) markerTime() time.Time {
	var when time.Time
	s.markerMutex.With(s.lockTimeout, func() error {
		if info, err := os.Stat(s.markerPath); err == nil {
			when = info.ModTime()
		}
		return nil
	})
	return when
}
