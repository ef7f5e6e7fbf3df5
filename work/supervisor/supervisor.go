// Package supervisor drives the launch cycle: rewrite the player's account
// proxies to local listeners, run the interception engine in a child
// process, launch the player, restore the proxies once the player has read
// them, and undo everything when the player exits.
package supervisor

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"sfvip-launcher/work/accounts"
	"sfvip-launcher/work/addon"
	"sfvip-launcher/work/cache"
	"sfvip-launcher/work/config"
	"sfvip-launcher/work/jobs"
	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/mitm"
	"sfvip-launcher/work/ports"
	"sfvip-launcher/work/userconf"
	"sfvip-launcher/work/watchdog"
)

// ErrCantStartProxies aborts the cycle when the engine's listeners never
// come up.
var ErrCantStartProxies = errors.New("supervisor: proxies did not start")

// Hooks let an outer UI observe the cycle; all fields are optional and are
// invoked on job-runner goroutines.
type Hooks struct {
	OnProgress  func(cache.Progress)
	OnEPGStatus func(status string)
}

// Supervisor owns one player lifetime at a time.
type Supervisor struct {
	cfg   *config.Config
	users userconf.Store
	store *accounts.Store
	pool  *accounts.RestorePool
	hooks Hooks

	group     *jobs.Group
	progress  *jobs.Runner[cache.Progress]
	epgStatus *jobs.Runner[string]
	dog       *watchdog.Watchdog

	child    atomic.Pointer[mitm.Child]
	relaunch atomic.Bool
}

// New discovers the account database and prepares the runners.
func New(cfg *config.Config, users userconf.Store, hooks Hooks) (*Supervisor, error) {
	store, err := accounts.Discover(users, cfg.PlayerConfigDir, cfg.EventTimePath(), cfg.AccountLockTimeout)
	if err != nil {
		return nil, err
	}
	group, err := jobs.NewGroup(2)
	if err != nil {
		return nil, err
	}
	s := &Supervisor{
		cfg:   cfg,
		users: users,
		store: store,
		pool:  accounts.NewRestorePool(cfg.RestorePoolPath()),
		hooks: hooks,
		group: group,
	}
	s.dog = watchdog.New(cfg.ProgressTimeout, s.onStall)
	s.progress = jobs.NewRunner(group, "progress", 64, s.onProgress)
	s.epgStatus = jobs.NewRunner(group, "epg-status", 4, s.onEPGStatus)
	return s, nil
}

// Close releases the runners. Safe after Run returns.
func (s *Supervisor) Close() {
	s.dog.Stop()
	s.group.Close()
}

// Run executes launch cycles until the player exits without a pending
// relaunch, or a cycle fails.
func (s *Supervisor) Run() error {
	for {
		s.relaunch.Store(false)
		if err := s.cycle(); err != nil {
			return err
		}
		if !s.relaunch.Load() {
			return nil
		}
		logger.Info("supervisor: relaunching")
	}
}

// cycle is one player lifetime, steps in order; every acquired resource is
// undone before returning.
func (s *Supervisor) cycle() error {
	accountList, err := s.store.Load()
	if err != nil {
		logger.Warn("supervisor: load accounts: %v", err)
	}
	upstreams := accounts.UpstreamSet(accountList)

	mapping, bindings, err := buildMapping(upstreams)
	if err != nil {
		return err
	}

	if err := s.pool.Put(mapping); err != nil {
		logger.Warn("supervisor: restore pool: %v", err)
	}
	if err := s.store.SetProxies(mapping); err != nil {
		return fmt.Errorf("supervisor: set proxies: %w", err)
	}

	child, err := s.startEngine(bindings)
	if err != nil {
		s.restoreAll()
		return err
	}
	s.child.Store(child)
	defer func() {
		s.dog.Disarm()
		s.child.Store(nil)
		child.Stop()
		s.pool.Remove()
	}()

	player, err := s.launchPlayer()
	if err != nil {
		s.restoreAll()
		return err
	}

	if err := s.store.WaitBeingRead(s.cfg.BeingReadTimeout); err != nil {
		logger.Warn("supervisor: %v", err)
	}
	s.restoreAll()

	watcher, err := s.store.WatchExternalModification(func() {
		s.onExternalModification(mapping)
	})
	if err != nil {
		logger.Warn("supervisor: account watcher: %v", err)
	}

	stopConfigWatch := s.watchConfigDir(player)

	player.Wait()
	stopConfigWatch()
	if watcher != nil {
		watcher.Stop()
	}
	s.restoreAll()
	return nil
}

// buildMapping allocates one loopback listener per upstream, skipping the
// invalid ones. Ports already used by an upstream URL are never allocated.
func buildMapping(upstreams map[string]struct{}) (map[string]string, []mitm.Binding, error) {
	forbidden := make(map[int]struct{})
	valid := make([]string, 0, len(upstreams))
	for upstream := range upstreams {
		parsed, err := mitm.ParseUpstream(upstream)
		if err != nil {
			logger.Warn("supervisor: %v", err)
			continue
		}
		valid = append(valid, upstream)
		if parsed != nil {
			if port, err := strconv.Atoi(parsed.Port()); err == nil {
				forbidden[port] = struct{}{}
			}
		}
	}

	mapping := make(map[string]string, len(valid))
	bindings := make([]mitm.Binding, 0, len(valid))
	for _, upstream := range valid {
		port, err := ports.AllocatePort(forbidden)
		if err != nil {
			return nil, nil, err
		}
		forbidden[port] = struct{}{}
		local := (&url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}).String()
		mapping[upstream] = local
		bindings = append(bindings, mitm.Binding{Port: port, Upstream: upstream})
	}
	return mapping, bindings, nil
}

// startEngine spawns the engine child and waits for its listeners.
func (s *Supervisor) startEngine(bindings []mitm.Binding) (*mitm.Child, error) {
	cfg := &mitm.EngineConfig{
		Bindings:       bindings,
		CADir:          s.cfg.CADir(),
		CacheDir:       s.cfg.CacheDir(),
		EPGCacheDir:    s.cfg.EPGCacheDir(),
		CacheCleanDays: s.cfg.CacheCleanDays,
		EPGCleanDays:   s.cfg.EPGCleanDays,
		EPGConfidence:  s.cfg.EPGConfidence,
		EPGURL:         s.cfg.EPGUrl,
		EPGTimeout:     s.cfg.EPGTimeout,
		Marker:         s.cfg.CacheMarkerHeader,
		Names:          addonNames(s.cfg),
		LogPath:        s.cfg.LogPath() + ".engine",
		JournalPath:    s.cfg.JournalPath(),
		StatusPort:     s.cfg.StatusPort,
		AdminHash:      s.cfg.AdminPassword,
		ObfuscateUrls:  s.cfg.ObfuscateUrls,
	}
	child, err := mitm.StartChild(cfg, mitm.ChildEvents{
		OnProgress:  func(p cache.Progress) { s.progress.Post(p) },
		OnEPGStatus: func(status string) { s.epgStatus.PostLatest(status) },
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if !child.WaitRunning(s.cfg.ProxyStartTimeout) {
		child.Stop()
		return nil, ErrCantStartProxies
	}
	return child, nil
}

// onExternalModification handles a database write the launcher did not
// make, typically the player saving the file back with the local listener
// URLs it holds in memory. The local rewrite is re-applied so the player
// keeps resolving through the listeners, then once the file has been read
// again the original upstreams go back on disk. Edits made by the external
// writer, a renamed account for instance, are preserved throughout.
func (s *Supervisor) onExternalModification(mapping map[string]string) {
	logger.Info("supervisor: external account change, re-applying proxies")
	if err := s.store.SetProxies(mapping); err != nil {
		logger.Warn("supervisor: re-apply proxies: %v", err)
		return
	}
	if err := s.store.WaitBeingRead(s.cfg.BeingReadTimeout); err != nil {
		logger.Warn("supervisor: %v", err)
	}
	s.restoreAll()
}

// restoreAll puts every live instance's original upstream back into the
// account database.
func (s *Supervisor) restoreAll() {
	merged, err := s.pool.Merged()
	if err != nil {
		logger.Warn("supervisor: restore pool: %v", err)
		return
	}
	if len(merged) == 0 {
		return
	}
	if err := s.store.RestoreProxies(merged); err != nil {
		logger.Warn("supervisor: restore proxies: %v", err)
	}
}

// onProgress drives the build watchdog and forwards to the UI hook.
func (s *Supervisor) onProgress(p cache.Progress) {
	switch p.Event {
	case cache.START, cache.SHOW:
		s.dog.Arm()
	case cache.STOP:
		s.dog.Disarm()
	}
	if s.hooks.OnProgress != nil {
		s.hooks.OnProgress(p)
	}
}

// onStall fires when a build emits nothing for the progress timeout.
func (s *Supervisor) onStall() {
	logger.Warn("supervisor: cache build stalled, stopping")
	if child := s.child.Load(); child != nil {
		child.StopBuilds()
	}
}

func (s *Supervisor) onEPGStatus(status string) {
	logger.Info("supervisor: epg %s", status)
	if s.hooks.OnEPGStatus != nil {
		s.hooks.OnEPGStatus(status)
	}
}

// watchConfigDir polls the player's registry config value and requests a
// relaunch when it moves, ending the current cycle by stopping the player.
func (s *Supervisor) watchConfigDir(player *Player) func() {
	initial := s.users.GetString(accounts.ConfigSection, accounts.ConfigKey)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if current := s.users.GetString(accounts.ConfigSection, accounts.ConfigKey); current != initial {
					logger.Info("supervisor: player config dir changed")
					s.relaunch.Store(true)
					player.Terminate()
					return
				}
			}
		}
	}()
	var stopped atomic.Bool
	return func() {
		if stopped.CompareAndSwap(false, true) {
			close(done)
		}
	}
}

func addonNames(cfg *config.Config) addon.CategoryNames {
	return addon.CategoryNames{
		Live:   cfg.AllCategoryLive,
		Vod:    cfg.AllCategoryVod,
		Series: cfg.AllCategorySeries,
		Cached: cfg.CachedAllCategory,
	}
}
