package cache

import (
	"encoding/json"
	"sync"

	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/metrics"
)

// build is the in-progress save state for one key.
//
//	IDLE ── page 1 with valid totals ──▶ BUILDING
//	BUILDING ── page n < max ──▶ BUILDING (SHOW)
//	BUILDING ── page max ──▶ persist ──▶ IDLE (STOP)
//	BUILDING ── other action / error / stop ──▶ persist-partial ──▶ IDLE (STOP)
//	IDLE ── page != 1 first ──▶ IDLE (discarded)
type build struct {
	mu           sync.Mutex
	totalItems   int
	maxPageItems int
	pages        int
	items        []json.RawMessage
	seen         map[string]struct{}
	lastStep     int
}

// itemID extracts a stable identity for an item; items without an id are
// kept but never deduplicated.
func itemID(item json.RawMessage) (string, bool) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(item, &probe); err != nil || len(probe.ID) == 0 {
		return "", false
	}
	return string(probe.ID), true
}

func (b *build) append(items []json.RawMessage) {
	for _, item := range items {
		if id, ok := itemID(item); ok {
			if _, dup := b.seen[id]; dup {
				continue
			}
			b.seen[id] = struct{}{}
		}
		b.items = append(b.items, item)
	}
}

// IngestPage feeds one get_ordered_list response page into the save path.
// page numbering is 1-based as the portal sends it.
func (s *Store) IngestPage(key Key, page int, body []byte) {
	var parsed content
	if err := json.Unmarshal(body, &parsed); err != nil {
		return
	}
	if parsed.JS.Data == nil {
		// a page that contributed no list invalidates the build
		s.StopKey(key)
		return
	}

	current, building := s.builds.Load(key)
	if !building {
		if page != 1 {
			return // discarded: a build only ever starts on page 1
		}
		if parsed.JS.TotalItems <= 0 || parsed.JS.MaxPageItems <= 0 {
			return
		}
		current = &build{
			totalItems:   parsed.JS.TotalItems,
			maxPageItems: parsed.JS.MaxPageItems,
			seen:         make(map[string]struct{}),
		}
		s.builds.Store(key, current)
		s.emit(Progress{Event: START})
		logger.Info("cache: building %s (%d items over %d pages)",
			key, current.totalItems, maxPages(current.totalItems, current.maxPageItems))
	}

	current.mu.Lock()
	current.append(parsed.JS.Data)
	current.pages++
	pages := current.pages
	expected := maxPages(current.totalItems, current.maxPageItems)
	fraction := 1.0
	if expected > 0 {
		fraction = float64(pages) / float64(expected)
	}
	step := int(fraction / showStep)
	show := step > current.lastStep && pages < expected
	if show {
		current.lastStep = step
	}
	current.mu.Unlock()

	metrics.CachePagesIngested.Inc()
	if show {
		s.emit(Progress{Event: SHOW, Fraction: fraction})
	}
	if expected > 0 && pages >= expected {
		s.finish(key, current)
	}
}

// StopKey flushes the in-progress build for key, persisting a partial entry
// when enough was captured. Idempotent.
func (s *Store) StopKey(key Key) {
	if current, ok := s.builds.LoadAndDelete(key); ok {
		s.persistBuild(key, current, true)
		s.emit(Progress{Event: STOP})
	}
}

// StopAll flushes every in-progress build. Idempotent.
func (s *Store) StopAll() {
	s.builds.Range(func(key Key, _ *build) bool {
		s.StopKey(key)
		return true
	})
}

// InProgress reports whether a build is running for key.
func (s *Store) InProgress(key Key) bool {
	_, ok := s.builds.Load(key)
	return ok
}

func (s *Store) finish(key Key, current *build) {
	if _, ok := s.builds.LoadAndDelete(key); !ok {
		return // lost the race with StopKey
	}
	s.persistBuild(key, current, false)
	s.emit(Progress{Event: STOP})
}

// persistBuild writes the aggregated pages to disk. A partial flush still
// persists when total_items is known and at least one page was captured,
// merged with the previously loaded entry to maximize recovery.
func (s *Store) persistBuild(key Key, current *build, partial bool) {
	current.mu.Lock()
	defer current.mu.Unlock()

	if current.totalItems <= 0 || current.pages == 0 {
		return
	}

	items := current.items
	if len(items) < current.totalItems {
		items = s.mergeWithLoaded(key, items, current.seen)
	}
	if len(items) > current.totalItems {
		items = items[:current.totalItems]
	}

	blob, err := json.Marshal(content{JS: payload{
		MaxPageItems: current.maxPageItems,
		TotalItems:   current.totalItems,
		Data:         items,
	}})
	if err != nil {
		logger.Error("cache: cannot encode %s: %v", key, err)
		return
	}
	if err := s.persist(key, current.totalItems, len(items), blob); err != nil {
		logger.Error("cache: cannot persist %s: %v", key, err)
		return
	}
	if entry, ok := s.load(key); ok {
		s.loaded.Store(key, entry)
	}
	state := "complete"
	if partial && len(items) < current.totalItems {
		state = "partial"
	}
	logger.Info("cache: persisted %s (%s, %d/%d items)", key, state, len(items), current.totalItems)
}

// mergeWithLoaded appends previously cached items the fresh ingest missed.
// New data wins: an id already captured is never overwritten.
func (s *Store) mergeWithLoaded(key Key, items []json.RawMessage, seen map[string]struct{}) []json.RawMessage {
	entry, ok := s.loaded.Load(key)
	if !ok {
		return items
	}
	var previous content
	if err := json.Unmarshal(entry.Content, &previous); err != nil {
		return items
	}
	for _, item := range previous.JS.Data {
		id, hasID := itemID(item)
		if !hasID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, item)
	}
	return items
}
