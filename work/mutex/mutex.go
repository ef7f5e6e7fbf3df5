package mutex

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Mutex is a cross-process named mutex backed by an exclusively-created lock
// file in the system temp directory. Two launcher instances contending for
// the same name serialize on the same file regardless of which started first.
//
// The lock file carries the owner pid; a lock whose owner no longer exists is
// treated as stale and broken, so a crashed instance never wedges the next one.
type Mutex struct {
	name string
	path string
	held bool
}

const pollInterval = 20 * time.Millisecond

// New returns a mutex for the given logical name. Names are hashed so any
// string (including full file paths) is a valid identity.
func New(name string) *Mutex {
	sum := sha1.Sum([]byte(name))
	return &Mutex{
		name: name,
		path: filepath.Join(os.TempDir(), "sfvip-launcher-"+hex.EncodeToString(sum[:8])+".lock"),
	}
}

// ForPath returns the mutex protecting a file path. The path is normalized
// so equivalent spellings map to the same lock.
func ForPath(path string) *Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return New("path:" + strings.ToLower(filepath.ToSlash(abs)))
}

// TryLock attempts a single acquisition without blocking.
func (m *Mutex) TryLock() bool {
	if m.held {
		return true
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		fmt.Fprintf(f, "%d", os.Getpid())
		f.Close()
		m.held = true
		return true
	}
	if m.breakStale() {
		return m.TryLock()
	}
	return false
}

// Lock blocks until the mutex is acquired or the timeout elapses.
func (m *Mutex) Lock(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if m.TryLock() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mutex %q: not acquired within %s", m.name, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// Unlock releases the mutex. Releasing a mutex not held is a no-op.
func (m *Mutex) Unlock() {
	if !m.held {
		return
	}
	m.held = false
	os.Remove(m.path)
}

// With runs fn while holding the mutex.
func (m *Mutex) With(timeout time.Duration, fn func() error) error {
	if err := m.Lock(timeout); err != nil {
		return err
	}
	defer m.Unlock()
	return fn()
}

// breakStale removes the lock file when its recorded owner pid is gone.
// Returns true when the file was removed and acquisition should be retried.
func (m *Mutex) breakStale() bool {
	data, err := os.ReadFile(m.path)
	if err != nil {
		// Racing unlink by the owner also lands here; retry either way.
		return os.IsNotExist(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return os.Remove(m.path) == nil
	}
	if PidAlive(pid) {
		return false
	}
	return os.Remove(m.path) == nil
}
