// Package accounts reads and writes the player's per-account JSON database
// safely across processes: proxy rewrites before launch, restore after the
// player has read the file, and detection of external edits while it runs.
package accounts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"

	"sfvip-launcher/work/mutex"
	"sfvip-launcher/work/userconf"
	"sfvip-launcher/work/utils"
)

// ErrConfigNotFound means the player's configuration directory could not be
// discovered from the user store or the conventional location.
var ErrConfigNotFound = errors.New("accounts: player config dir not found")

const (
	// registry path the player records its config dir under
	ConfigSection = `SOFTWARE\SFVIP`
	ConfigKey     = "ConfigDir"

	// conventional fallback below the user roaming dir
	conventionalDirName = "SFVIP-Player"

	databaseName = "Database.json"
)

// Account is one record of the player's account database. Only the fields
// the launcher touches are declared; everything else round-trips verbatim.
type Account struct {
	Name      string
	Address   string
	HttpProxy string

	extra map[string]json.RawMessage
}

// UnmarshalJSON keeps unknown fields so a save never clobbers them.
func (a *Account) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	get := func(key string, dest *string) {
		if v, ok := raw[key]; ok {
			json.Unmarshal(v, dest)
			delete(raw, key)
		}
	}
	get("Name", &a.Name)
	get("Address", &a.Address)
	get("HttpProxy", &a.HttpProxy)
	a.extra = raw
	return nil
}

// MarshalJSON re-emits the declared fields plus every preserved unknown one,
// in a stable order.
func (a Account) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(key string, value []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(value)
	}

	name, _ := json.Marshal(a.Name)
	address, _ := json.Marshal(a.Address)
	proxy, _ := json.Marshal(a.HttpProxy)
	writeField("Name", name)
	writeField("Address", address)
	writeField("HttpProxy", proxy)

	keys := make([]string, 0, len(a.extra))
	for k := range a.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(k, a.extra[k])
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IsPlaylist reports whether the account points at a playlist rather than a
// portal: an .m3u/.m3u8 address, or a local file that decodes as M3U.
// Playlist accounts are never mutated.
func (a *Account) IsPlaylist() bool {
	address := strings.TrimSpace(a.Address)
	if address == "" {
		return false
	}
	lowered := strings.ToLower(address)
	if strings.HasSuffix(lowered, ".m3u") || strings.HasSuffix(lowered, ".m3u8") {
		return true
	}
	if strings.Contains(lowered, "://") {
		return false
	}
	// Local path without the suffix: sniff the content.
	f, err := os.Open(address)
	if err != nil {
		return false
	}
	defer f.Close()
	if _, _, err := m3u8.DecodeFrom(f, false); err != nil {
		return false
	}
	return true
}

// trailingComma matches a trailing comma before } or ] outside of strings.
// The alternation consumes string literals first so commas inside them are
// never touched.
var trailingComma = regexp.MustCompile(`("(?:[^"\\]|\\.)*")|,(\s*[}\]])`)

// StripTrailingCommas removes trailing commas the player sometimes leaves
// before closing braces and brackets.
func StripTrailingCommas(data []byte) []byte {
	return trailingComma.ReplaceAll(data, []byte("$1$2"))
}

// Store owns access to one Database.json.
type Store struct {
	Path string

	dbMutex     *mutex.Mutex
	markerMutex *mutex.Mutex
	markerPath  string
	lockTimeout time.Duration

	lastSavedAtime time.Time
}

// Discover resolves the player config dir from the user store, falling back
// to the conventional roaming location, and returns a store for its database.
// markerPath is the shared event-time marker file (used purely for its mtime).
func Discover(users userconf.Store, override, markerPath string, lockTimeout time.Duration) (*Store, error) {
	dir := override
	if dir == "" {
		dir = users.GetString(ConfigSection, ConfigKey)
	}
	if dir == "" {
		roaming, err := os.UserConfigDir()
		if err == nil {
			dir = filepath.Join(roaming, conventionalDirName)
		}
	}
	if dir == "" {
		return nil, ErrConfigNotFound
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, dir)
	}
	return NewStore(filepath.Join(dir, databaseName), markerPath, lockTimeout), nil
}

// NewStore returns a store for an explicit database path.
func NewStore(path, markerPath string, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = time.Second
	}
	return &Store{
		Path:        path,
		dbMutex:     mutex.ForPath(path),
		markerMutex: mutex.ForPath(markerPath),
		markerPath:  markerPath,
		lockTimeout: lockTimeout,
	}
}

// Load reads and parses the database under the cross-process mutex. A parse
// failure yields an empty list, never an error: the player may be mid-write.
func (s *Store) Load() ([]Account, error) {
	var accounts []Account
	err := s.dbMutex.With(s.lockTimeout, func() error {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(StripTrailingCommas(data), &accounts); err != nil {
			accounts = nil
		}
		return nil
	})
	return accounts, err
}

// Save serializes with 2-space indentation and no space after separators,
// under the same mutex, and records the post-save atime for WaitBeingRead.
func (s *Store) Save(accounts []Account) error {
	return s.dbMutex.With(s.lockTimeout, func() error {
		if err := s.writeLocked(accounts); err != nil {
			return err
		}
		s.touchMarker()
		if atime, err := utils.FileAtime(s.Path); err == nil {
			s.lastSavedAtime = atime
		}
		return nil
	})
}

func (s *Store) writeLocked(accounts []Account) error {
	compact, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	// json.Indent keeps the compact colon spacing, which matches the
	// player's own writer.
	var indented bytes.Buffer
	if err := json.Indent(&indented, compact, "", "  "); err != nil {
		return err
	}
	return os.WriteFile(s.Path, indented.Bytes(), 0o644)
}

// UpstreamSet returns the distinct HttpProxy values across non-playlist
// accounts, including "" when at least one such account has no proxy.
func UpstreamSet(accounts []Account) map[string]struct{} {
	set := make(map[string]struct{})
	for i := range accounts {
		if accounts[i].IsPlaylist() {
			continue
		}
		set[strings.TrimSpace(accounts[i].HttpProxy)] = struct{}{}
	}
	return set
}

// SetProxies rewrites every non-playlist account whose HttpProxy is a key of
// proxies to the mapped local listener URL, disambiguates duplicate names,
// and saves. Returns the restore map (local -> original upstream inverse is
// kept by the caller as upstream -> local).
func (s *Store) SetProxies(proxies map[string]string) error {
	return s.dbMutex.With(s.lockTimeout, func() error {
		accounts, err := s.loadLocked()
		if err != nil {
			return err
		}
		rewriteProxies(accounts, proxies)
		disambiguateNames(accounts)
		if err := s.writeLocked(accounts); err != nil {
			return err
		}
		s.touchMarker()
		if atime, err := utils.FileAtime(s.Path); err == nil {
			s.lastSavedAtime = atime
		}
		return nil
	})
}

// RestoreProxies inverts an {upstream -> local} mapping and applies it, so
// accounts pointing at local listeners regain their original upstream URL.
// External edits made meanwhile are preserved: only HttpProxy is touched.
func (s *Store) RestoreProxies(mapping map[string]string) error {
	inverse := make(map[string]string, len(mapping))
	for upstream, local := range mapping {
		inverse[local] = upstream
	}
	return s.SetProxies(inverse)
}

func (s *Store) loadLocked() ([]Account, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var accounts []Account
	if err := json.Unmarshal(StripTrailingCommas(data), &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func rewriteProxies(accounts []Account, proxies map[string]string) {
	for i := range accounts {
		if accounts[i].IsPlaylist() {
			continue
		}
		if mapped, ok := proxies[strings.TrimSpace(accounts[i].HttpProxy)]; ok {
			accounts[i].HttpProxy = mapped
		}
	}
}

// disambiguateNames suffixes duplicate Name fields with 2, 3, ... so the
// player's account list stays unique.
func disambiguateNames(accounts []Account) {
	seen := make(map[string]int)
	for i := range accounts {
		name := accounts[i].Name
		count := seen[name]
		seen[name] = count + 1
		if count > 0 {
			accounts[i].Name = fmt.Sprintf("%s%d", name, count+1)
		}
	}
}
