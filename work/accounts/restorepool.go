package accounts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sfvip-launcher/work/mutex"
)

// RestorePool shares proxies-to-restore across concurrently running launcher
// instances. The file is a JSON object keyed by stringified pid, each value
// an {upstream -> local} map. Keeping entries per pid guarantees two
// instances never erase each other's restore data.
type RestorePool struct {
	path string
	mu   *mutex.Mutex
	pid  int
	ttl  time.Duration
}

// NewRestorePool returns the pool at path for the current process.
func NewRestorePool(path string) *RestorePool {
	return &RestorePool{
		path: path,
		mu:   mutex.ForPath(path),
		pid:  os.Getpid(),
		ttl:  time.Second,
	}
}

type poolContent map[string]map[string]string

func (p *RestorePool) read() poolContent {
	content := poolContent{}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return content
	}
	if err := json.Unmarshal(data, &content); err != nil {
		return poolContent{}
	}
	return content
}

func (p *RestorePool) write(content poolContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}

// Put records this instance's pending restore map (upstream -> local).
func (p *RestorePool) Put(restore map[string]string) error {
	return p.mu.With(p.ttl, func() error {
		content := p.read()
		content[strconv.Itoa(p.pid)] = restore
		return p.write(content)
	})
}

// Remove drops this instance's entry, on clean exit.
func (p *RestorePool) Remove() error {
	return p.mu.With(p.ttl, func() error {
		content := p.read()
		delete(content, strconv.Itoa(p.pid))
		return p.write(content)
	})
}

// Merged returns the union of every live-pid entry. Entries whose pid no
// longer exists are abandoned leftovers from a crashed instance: they are
// folded into the result as well, then evicted from the file, so their
// accounts are restored exactly once.
func (p *RestorePool) Merged() (map[string]string, error) {
	merged := map[string]string{}
	err := p.mu.With(p.ttl, func() error {
		content := p.read()
		changed := false
		for pidStr, restore := range content {
			pid, err := strconv.Atoi(pidStr)
			alive := err == nil && mutex.PidAlive(pid)
			for upstream, local := range restore {
				merged[upstream] = local
			}
			if !alive {
				delete(content, pidStr)
				changed = true
			}
		}
		if changed {
			return p.write(content)
		}
		return nil
	})
	return merged, err
}
