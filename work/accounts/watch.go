package accounts

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sfvip-launcher/work/logger"
)

// debounce coalesces the bursts editors and the player produce on save.
const debounce = 100 * time.Millisecond

// Watcher reports external modifications of the account database. A modify
// event is external when the database mtime is newer than the shared
// event-time marker, i.e. no launcher instance wrote it.
type Watcher struct {
	store    *Store
	callback func()

	fs       *fsnotify.Watcher
	stopOnce sync.Once
	stopped  chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
}

// WatchExternalModification installs a filesystem watcher on the database
// directory and invokes callback for every external change.
func (s *Store) WatchExternalModification(callback func()) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(s.Path)); err != nil {
		fs.Close()
		return nil, err
	}
	w := &Watcher{
		store:    s,
		callback: callback,
		fs:       fs,
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	base := filepath.Base(w.store.Path)
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.onModify()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn("accounts: watcher error: %v", err)
		case <-w.stopped:
			return
		}
	}
}

func (w *Watcher) onModify() {
	info, err := os.Stat(w.store.Path)
	if err != nil {
		return
	}
	mtime := info.ModTime()

	w.mu.Lock()
	if mtime.Sub(w.lastSeen) < debounce {
		w.mu.Unlock()
		return
	}
	w.lastSeen = mtime
	w.mu.Unlock()

	// Internal writes bump the marker right after the database; give the
	// marker a moment to land before judging.
	time.Sleep(debounce)
	if !mtime.After(w.store.markerTime()) {
		return
	}
	logger.Info("accounts: external modification detected")
	w.callback()
}

// Stop closes the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		w.fs.Close()
	})
}
