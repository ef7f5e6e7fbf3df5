// Package cache persists per-(server, media type) catalogs so "All" queries
// become instant. Pages of get_ordered_list responses are aggregated into a
// single on-disk entry; partially captured builds are merged with whatever
// was loaded before, by unique item id.
package cache

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/metrics"
	"sfvip-launcher/work/utils"
)

// MediaType is a cacheable panel type.
type MediaType string

const (
	Vod    MediaType = "vod"
	Series MediaType = "series"
)

// KnownTypes lists the suffixes eviction recognizes.
var KnownTypes = []MediaType{Vod, Series}

// Key identifies one catalog: the portal host and the media type.
type Key struct {
	Server string
	Type   MediaType
}

// Filename renders the key with filesystem-unsafe characters replaced.
func (k Key) Filename() string {
	return utils.SanitizeHost(k.Server) + "." + string(k.Type)
}

func (k Key) String() string {
	return k.Server + "." + string(k.Type)
}

// ProgressEvent is one step of a cache build.
type ProgressEvent int

const (
	START ProgressEvent = iota
	SHOW
	STOP
)

func (e ProgressEvent) String() string {
	switch e {
	case START:
		return "START"
	case SHOW:
		return "SHOW"
	default:
		return "STOP"
	}
}

// Progress is emitted on the build pipeline: START on the first accepted
// page, SHOW with a fraction while building, STOP on persist or abort.
type Progress struct {
	Event    ProgressEvent `json:"event"`
	Fraction float64       `json:"fraction"`
}

// showStep is the integer-step filter granularity: a SHOW is emitted each
// time the completed fraction crosses another 0.05% of the expected pages.
const showStep = 0.0005

// content is the JSON blob stored per entry.
type content struct {
	JS payload `json:"js"`
}

type payload struct {
	MaxPageItems int               `json:"max_page_items"`
	TotalItems   int               `json:"total_items"`
	Data         []json.RawMessage `json:"data"`
}

// Entry is a successfully loaded catalog.
type Entry struct {
	Key         Key
	Content     []byte // the full {"js": …} blob
	TotalItems  int
	ActualItems int
	ModTime     time.Time
}

// MissingFraction is (total - actual) / total, 0 for an empty total.
func (e *Entry) MissingFraction() float64 {
	if e.TotalItems <= 0 {
		return 0
	}
	return float64(e.TotalItems-e.ActualItems) / float64(e.TotalItems)
}

// Age renders the days since the file was last written.
func (e *Entry) Age(now time.Time) string {
	return utils.AgeString(int(now.Sub(e.ModTime).Hours() / 24))
}

// Store is the catalog cache.
type Store struct {
	dir       string
	cleanDays int
	emit      func(Progress)

	builds *xsync.MapOf[Key, *build]
	loaded *xsync.MapOf[Key, *Entry]
}

// NewStore creates the store rooted at dir. emit receives build progress
// events; nil disables reporting. Startup evicts stale files.
func NewStore(dir string, cleanDays int, emit func(Progress)) *Store {
	if emit == nil {
		emit = func(Progress) {}
	}
	s := &Store{
		dir:       dir,
		cleanDays: cleanDays,
		emit:      emit,
		builds:    xsync.NewMapOf[Key, *build](),
		loaded:    xsync.NewMapOf[Key, *Entry](),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("cache: cannot create %s: %v", dir, err)
	}
	s.evict()
	return s
}

// Loaded returns the in-memory entry for key, when one was loaded.
func (s *Store) Loaded(key Key) (*Entry, bool) {
	return s.loaded.Load(key)
}

// LoadForServer loads the cache entry for every known type of the given
// server and purges other-server entries from the load map. Called on every
// get_categories response so the panel reflects what is on disk.
func (s *Store) LoadForServer(server string) {
	s.loaded.Range(func(key Key, _ *Entry) bool {
		if key.Server != server {
			s.loaded.Delete(key)
		}
		return true
	})
	for _, mediaType := range KnownTypes {
		key := Key{Server: server, Type: mediaType}
		if entry, ok := s.load(key); ok {
			s.loaded.Store(key, entry)
		} else {
			s.loaded.Delete(key)
		}
	}
}

// Hit returns the cached content for key when a valid entry is loaded.
// Used by the addon to short-circuit cached-all queries.
func (s *Store) Hit(key Key) ([]byte, bool) {
	entry, ok := s.loaded.Load(key)
	if !ok {
		// fall back to disk: the panel may query before get_categories
		if fromDisk, loaded := s.load(key); loaded {
			s.loaded.Store(key, fromDisk)
			entry, ok = fromDisk, true
		}
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.Content, true
}

// Entries snapshots the loaded entries, for the status endpoint.
func (s *Store) Entries() []*Entry {
	var entries []*Entry
	s.loaded.Range(func(_ Key, entry *Entry) bool {
		entries = append(entries, entry)
		return true
	})
	return entries
}

// evict deletes every file in the cache dir whose suffix matches a known
// type and whose atime is older than cleanDays. Permission errors are
// logged and ignored.
func (s *Store) evict() {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cleanDays)
	for _, file := range files {
		if file.IsDir() || !hasKnownSuffix(file.Name()) {
			continue
		}
		path := filepath.Join(s.dir, file.Name())
		atime, err := utils.FileAtime(path)
		if err != nil || atime.After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("cache: cannot evict %s: %v", path, err)
		} else {
			logger.Info("cache: evicted %s (last used %s)",
				file.Name(), utils.AgeString(int(time.Since(atime).Hours()/24)))
		}
	}
}

func hasKnownSuffix(name string) bool {
	for _, mediaType := range KnownTypes {
		if strings.HasSuffix(name, "."+string(mediaType)) {
			return true
		}
	}
	return false
}

// maxPages derives the expected page count, ceil(total / perPage).
func maxPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(perPage)))
}
