// Package epg downloads, parses, caches and serves XMLTV programme listings,
// mapping portal stream ids onto XMLTV channel ids with a tunable matching
// confidence.
package epg

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/puzpuzpuz/xsync/v3"

	"sfvip-launcher/work/jobs"
	"sfvip-launcher/work/logger"
	"sfvip-launcher/work/utils"
)

// Status of the EPG subsystem.
type Status int

const (
	LOADING Status = iota
	READY
	FAILED
	NO_EPG      // empty URL
	INVALID_URL // scheme not http/https or missing host
)

func (s Status) String() string {
	switch s {
	case LOADING:
		return "LOADING"
	case READY:
		return "READY"
	case FAILED:
		return "FAILED"
	case NO_EPG:
		return "NO_EPG"
	default:
		return "INVALID_URL"
	}
}

// index is one parsed XMLTV generation: the normalized-id map and the
// programme lists. Swapped in atomically; readers never see a partial one.
type index struct {
	url        string
	normalized map[string]string // normalize(id) -> id
	programmes map[string][]programme
}

// serverChannels maps portal stream ids to XMLTV channel ids for one server.
// While construction runs the previous (or empty) map keeps serving.
type serverChannels struct {
	byStream map[string]string
}

// Store is the EPG subsystem.
type Store struct {
	cacheDir  string
	cleanDays int
	timeout   time.Duration
	client    *http.Client

	status     atomic.Int32
	confidence atomic.Int32
	current    atomic.Pointer[index]
	servers    *xsync.MapOf[string, *serverChannels]

	updater        *jobs.Runner[string]
	confidenceJobs *jobs.Runner[int]
}

// NewStore creates the store rooted at cacheDir, wiring its updater and
// confidence runners onto the group. Startup evicts stale cache files.
func NewStore(group *jobs.Group, cacheDir string, cleanDays, confidence int, timeout time.Duration) *Store {
	s := &Store{
		cacheDir:  cacheDir,
		cleanDays: cleanDays,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		servers:   xsync.NewMapOf[string, *serverChannels](),
	}
	s.status.Store(int32(NO_EPG))
	s.SetConfidence(confidence)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		logger.Warn("epg: cannot create %s: %v", cacheDir, err)
	}
	s.evict()
	s.updater = jobs.NewRunner(group, "epg-update", 1, s.update)
	s.confidenceJobs = jobs.NewRunner(group, "epg-confidence", 1, func(c int) { s.SetConfidence(c) })
	return s
}

// Update posts a new source URL; the newest pending URL wins.
func (s *Store) Update(url string) {
	s.updater.PostLatest(url)
}

// PostConfidence posts a confidence change through its job runner.
func (s *Store) PostConfidence(confidence int) {
	s.confidenceJobs.PostLatest(confidence)
}

// SetConfidence clamps and applies the matching confidence immediately.
func (s *Store) SetConfidence(confidence int) {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	s.confidence.Store(int32(confidence))
}

// Confidence returns the current matching confidence.
func (s *Store) Confidence() int {
	return int(s.confidence.Load())
}

// Status returns the current subsystem status.
func (s *Store) Status() Status {
	return Status(s.status.Load())
}

// update runs on the updater's consumer goroutine: fetch, parse, swap.
func (s *Store) update(rawURL string) {
	if current := s.current.Load(); current != nil && current.url == rawURL {
		return
	}
	if rawURL == "" {
		s.status.Store(int32(NO_EPG))
		return
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		s.status.Store(int32(INVALID_URL))
		return
	}

	s.status.Store(int32(LOADING))
	next, err := s.fetch(rawURL)
	if err != nil {
		// keep the previous index; cached data continues to serve
		logger.Warn("epg: %s failed: %v", utils.ObfuscateURL(rawURL), err)
		s.status.Store(int32(FAILED))
		return
	}
	s.current.Store(next)
	s.status.Store(int32(READY))
	logger.Info("epg: loaded %d channels from %s", len(next.normalized), utils.ObfuscateURL(rawURL))
}

// fetch downloads and parses one XMLTV source, consulting the paired
// .epg/.prg cache before reparsing.
func (s *Store) fetch(rawURL string) (*index, error) {
	resp, err := s.client.Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("epg: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("epg: fetch: status %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if hasGzSuffix(rawURL) || resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("epg: gunzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	xmlBytes, err := io.ReadAll(io.LimitReader(reader, maxXMLSize))
	if err != nil {
		return nil, fmt.Errorf("epg: read: %w", err)
	}

	sum := md5.Sum(xmlBytes)
	digest := hex.EncodeToString(sum[:])

	if byChannel, ids, ok := s.loadCache(rawURL, digest); ok {
		logger.Debug("epg: cache hit for %s", utils.ObfuscateURL(rawURL))
		return buildIndex(rawURL, byChannel, ids), nil
	}

	byChannel, ids, err := parseXMLTV(bytes.NewReader(xmlBytes))
	if err != nil {
		return nil, err
	}
	if err := s.saveCache(rawURL, digest, byChannel, ids); err != nil {
		logger.Warn("epg: cannot cache %s: %v", utils.ObfuscateURL(rawURL), err)
	}
	return buildIndex(rawURL, byChannel, ids), nil
}

const maxXMLSize = 512 << 20

func hasGzSuffix(rawURL string) bool {
	if u, err := url.Parse(rawURL); err == nil {
		rawURL = u.Path
	}
	return len(rawURL) > 3 && rawURL[len(rawURL)-3:] == ".gz"
}

func buildIndex(url string, byChannel map[string][]programme, ids []string) *index {
	normalized := make(map[string]string, len(ids))
	for _, id := range ids {
		normalized[Normalize(id)] = id
	}
	return &index{url: url, normalized: normalized, programmes: byChannel}
}

// BuildServerChannels hands a get_live_streams JSON list to the store; the
// per-server stream map is built asynchronously and reads as empty until the
// swap. body is the raw upstream response.
func (s *Store) BuildServerChannels(server string, body []byte) {
	go func() {
		var streams []struct {
			StreamID     json.RawMessage `json:"stream_id"`
			Name         string          `json:"name"`
			EPGChannelID string          `json:"epg_channel_id"`
		}
		if err := json.Unmarshal(body, &streams); err != nil {
			return
		}
		byStream := make(map[string]string, len(streams))
		for _, stream := range streams {
			id := rawToString(stream.StreamID)
			if id == "" {
				continue
			}
			channel := stream.EPGChannelID
			if channel == "" {
				channel = stream.Name
			}
			if channel != "" {
				byStream[id] = channel
			}
		}
		s.servers.Store(server, &serverChannels{byStream: byStream})
		logger.Debug("epg: mapped %d streams for %s", len(byStream), server)
	}()
}

// rawToString renders a JSON scalar (string or number) as its plain string.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return string(raw)
}
