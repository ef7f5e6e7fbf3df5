package mitm

import (
	"bufio"
	"io"
	"sync"
	"time"

	"sfvip-launcher/work/addon"
	"sfvip-launcher/work/cache"
	"sfvip-launcher/work/epg"
	"sfvip-launcher/work/jobs"
	"sfvip-launcher/work/journal"
	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/status"
)

// RunEngine is the entry point of the engine child process. It reads the
// config frame from in, starts the listeners, then serves command frames
// until in closes or a stop frame arrives. Returns the process exit code.
func RunEngine(in io.Reader, out io.Writer) int {
	reader := bufio.NewReader(in)
	writer := &frameWriter{out: out}

	first, err := readFrame(reader)
	if err != nil || first.Kind != frameConfig || first.Config == nil {
		logger.Error("engine: no config frame: %v", err)
		return 1
	}
	cfg := first.Config
	if cfg.LogPath != "" {
		logger.SetDefault(logger.NewWithFile("info", cfg.LogPath))
	}

	group, err := jobs.NewGroup(2)
	if err != nil {
		logger.Error("engine: job group: %v", err)
		return 1
	}
	defer group.Close()

	cacheStore := cache.NewStore(cfg.CacheDir, cfg.CacheCleanDays, func(p cache.Progress) {
		writer.write(frame{Kind: frameProgress, Progress: &p})
	})
	epgStore := epg.NewStore(group, cfg.EPGCacheDir, cfg.EPGCleanDays, cfg.EPGConfidence, cfg.EPGTimeout)

	var flows *journal.Journal
	if cfg.JournalPath != "" {
		flows, err = journal.Open(cfg.JournalPath)
		if err != nil {
			logger.Warn("engine: journal disabled: %v", err)
		} else {
			defer flows.Close()
			flows.Prune(cfg.CacheCleanDays)
		}
	}
	proxyAddon := addon.New(cacheStore, epgStore, flows, cfg.Marker, cfg.Names)

	ca, err := NewCA(cfg.CADir)
	if err != nil {
		writer.write(frame{Kind: frameStarted, Started: &startedInfo{Err: err.Error()}})
		return 1
	}
	engine := NewEngine(ca, proxyAddon, cfg.Bindings, cfg.ObfuscateUrls)
	if err := engine.Start(); err != nil {
		writer.write(frame{Kind: frameStarted, Started: &startedInfo{Err: err.Error()}})
		return 1
	}
	defer engine.Stop()
	writer.write(frame{Kind: frameStarted, Started: &startedInfo{OK: true}})

	if cfg.StatusPort > 0 {
		statusServer := status.New(cacheStore, epgStore, flows, cfg.AdminHash)
		if err := statusServer.Start(cfg.StatusPort); err != nil {
			logger.Warn("engine: %v", err)
		} else {
			defer statusServer.Stop()
		}
	}

	if cfg.EPGURL != "" {
		epgStore.Update(cfg.EPGURL)
	}

	stopStatus := watchEPGStatus(epgStore, writer)
	defer stopStatus()

	for {
		f, err := readFrame(reader)
		if err != nil {
			// stdin closed: the supervisor is gone or shutting down
			cacheStore.StopAll()
			return 0
		}
		switch f.Kind {
		case frameEPGURL:
			epgStore.Update(f.URL)
		case frameConfidence:
			epgStore.PostConfidence(f.Confidence)
		case frameStopBuilds:
			cacheStore.StopAll()
		case frameStop:
			cacheStore.StopAll()
			return 0
		}
	}
}

// watchEPGStatus forwards EPG status transitions to the supervisor.
func watchEPGStatus(store *epg.Store, writer *frameWriter) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		last := epg.Status(-1)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if status := store.Status(); status != last {
					last = status
					writer.write(frame{Kind: frameEPGStatus, EPGStatus: status.String()})
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// frameWriter serializes frame writes from concurrent emitters.
type frameWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *frameWriter) write(f frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := writeFrame(w.out, f); err != nil {
		logger.Error("engine: frame write: %v", err)
	}
}
