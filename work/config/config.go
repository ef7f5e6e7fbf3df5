package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all launcher configuration values: where the roaming state
// lives, how the synthetic categories are labelled, EPG source and matching
// confidence, cache retention, and the timeouts governing the launch cycle.
type Config struct {
	RoamingDir    string // Launcher-owned state directory (cache/, logs, restore pool)
	LogLevel      string // DEBUG, INFO, WARN, ERROR
	ObfuscateUrls bool   // Obfuscate portal/upstream URLs in logs

	AllCategoryLive   string // Display name of the synthetic live "All" category
	AllCategoryVod    string // Display name of the synthetic vod "All" category
	AllCategorySeries string // Display name of the synthetic series "All" category
	CachedAllCategory string // Display name of the cached-all category
	CacheCleanDays    int    // Catalog cache eviction age in days
	CacheMarkerHeader string // Response header marking an already-cached synthesized response

	EPGUrl        string        // XMLTV source URL, empty disables EPG
	EPGConfidence int           // Channel matching confidence, 0-100
	EPGCleanDays  int           // EPG cache eviction age in days
	EPGTimeout    time.Duration // XMLTV fetch timeout

	PlayerPath      string // Player binary, empty means discovery by convention
	PlayerConfigDir string // Override for the player config dir, empty means registry/convention

	ProxyStartTimeout  time.Duration // WaitRunning deadline for the engine child
	ProgressTimeout    time.Duration // Cache build watchdog deadline without SHOW
	BeingReadTimeout   time.Duration // WaitBeingRead deadline on the account DB
	AccountLockTimeout time.Duration // Give-up deadline on a locked account DB

	StatusPort    int    // Loopback status endpoint port, 0 disables it
	AdminPassword string // bcrypt hash gating mutating status routes

	// Unknown top-level keys from the config file, re-emitted verbatim on
	// save so forward-compatible config is never clobbered.
	Extra map[string]json.RawMessage
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling
// configuration. Duration fields are stored as strings (e.g. "5s").
type ConfigFile struct {
	RoamingDir    string `json:"roamingDir"`
	LogLevel      string `json:"logLevel"`
	ObfuscateUrls bool   `json:"obfuscateUrls"`

	AllCategoryLive   string `json:"allCategoryLive"`
	AllCategoryVod    string `json:"allCategoryVod"`
	AllCategorySeries string `json:"allCategorySeries"`
	CachedAllCategory string `json:"cachedAllCategory"`
	CacheCleanDays    int    `json:"cacheCleanDays"`

	EPGUrl        string `json:"epgUrl"`
	EPGConfidence int    `json:"epgConfidence"`
	EPGCleanDays  int    `json:"epgCleanDays"`
	EPGTimeout    string `json:"epgTimeout"`

	PlayerPath      string `json:"playerPath"`
	PlayerConfigDir string `json:"playerConfigDir"`

	ProxyStartTimeout  string `json:"proxyStartTimeout"`
	ProgressTimeout    string `json:"progressTimeout"`
	BeingReadTimeout   string `json:"beingReadTimeout"`
	AccountLockTimeout string `json:"accountLockTimeout"`

	StatusPort    int    `json:"statusPort"`
	AdminPassword string `json:"adminPassword,omitempty"`
}

// knownKeys mirrors the ConfigFile json tags; anything else in the file is
// preserved in Config.Extra.
var knownKeys = map[string]struct{}{
	"roamingDir": {}, "logLevel": {}, "obfuscateUrls": {},
	"allCategoryLive": {}, "allCategoryVod": {}, "allCategorySeries": {},
	"cachedAllCategory": {}, "cacheCleanDays": {},
	"epgUrl": {}, "epgConfidence": {}, "epgCleanDays": {}, "epgTimeout": {},
	"playerPath": {}, "playerConfigDir": {},
	"proxyStartTimeout": {}, "progressTimeout": {}, "beingReadTimeout": {},
	"accountLockTimeout": {},
	"statusPort":         {}, "adminPassword": {},
}

// Load reads the configuration from path, falling back to defaults when the
// file is missing or invalid. The returned config is always validated.
func Load(path string) *Config {
	config, err := loadFromFile(path)
	if err != nil {
		config = Default()
	}
	validateAndSetDefaults(config)
	return config
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// second decode into a raw map to capture unknown keys
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	extra := make(map[string]json.RawMessage)
	for key, value := range raw {
		if _, known := knownKeys[key]; !known {
			extra[key] = value
		}
	}

	return convertFromFile(&configFile, extra)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile, extra map[string]json.RawMessage) (*Config, error) {
	config := &Config{
		RoamingDir:        cf.RoamingDir,
		LogLevel:          cf.LogLevel,
		ObfuscateUrls:     cf.ObfuscateUrls,
		AllCategoryLive:   cf.AllCategoryLive,
		AllCategoryVod:    cf.AllCategoryVod,
		AllCategorySeries: cf.AllCategorySeries,
		CachedAllCategory: cf.CachedAllCategory,
		CacheCleanDays:    cf.CacheCleanDays,
		EPGUrl:            cf.EPGUrl,
		EPGConfidence:     cf.EPGConfidence,
		EPGCleanDays:      cf.EPGCleanDays,
		PlayerPath:        cf.PlayerPath,
		PlayerConfigDir:   cf.PlayerConfigDir,
		StatusPort:        cf.StatusPort,
		AdminPassword:     cf.AdminPassword,
		Extra:             extra,
	}

	for _, d := range []struct {
		raw  string
		dest *time.Duration
		name string
	}{
		{cf.EPGTimeout, &config.EPGTimeout, "epgTimeout"},
		{cf.ProxyStartTimeout, &config.ProxyStartTimeout, "proxyStartTimeout"},
		{cf.ProgressTimeout, &config.ProgressTimeout, "progressTimeout"},
		{cf.BeingReadTimeout, &config.BeingReadTimeout, "beingReadTimeout"},
		{cf.AccountLockTimeout, &config.AccountLockTimeout, "accountLockTimeout"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dest = parsed
	}

	return config, nil
}

// Save writes the configuration back to path, re-emitting preserved unknown
// keys alongside the declared schema.
func (c *Config) Save(path string) error {
	out := map[string]json.RawMessage{}
	for key, value := range c.Extra {
		out[key] = value
	}

	declared, err := json.Marshal(c.toFile())
	if err != nil {
		return err
	}
	var declaredMap map[string]json.RawMessage
	if err := json.Unmarshal(declared, &declaredMap); err != nil {
		return err
	}
	for key, value := range declaredMap {
		out[key] = value
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) toFile() *ConfigFile {
	return &ConfigFile{
		RoamingDir:         c.RoamingDir,
		LogLevel:           c.LogLevel,
		ObfuscateUrls:      c.ObfuscateUrls,
		AllCategoryLive:    c.AllCategoryLive,
		AllCategoryVod:     c.AllCategoryVod,
		AllCategorySeries:  c.AllCategorySeries,
		CachedAllCategory:  c.CachedAllCategory,
		CacheCleanDays:     c.CacheCleanDays,
		EPGUrl:             c.EPGUrl,
		EPGConfidence:      c.EPGConfidence,
		EPGCleanDays:       c.EPGCleanDays,
		EPGTimeout:         c.EPGTimeout.String(),
		PlayerPath:         c.PlayerPath,
		PlayerConfigDir:    c.PlayerConfigDir,
		ProxyStartTimeout:  c.ProxyStartTimeout.String(),
		ProgressTimeout:    c.ProgressTimeout.String(),
		BeingReadTimeout:   c.BeingReadTimeout.String(),
		AccountLockTimeout: c.AccountLockTimeout.String(),
		StatusPort:         c.StatusPort,
		AdminPassword:      c.AdminPassword,
	}
}

// Default returns a baseline configuration with sensible defaults when no
// file is present.
func Default() *Config {
	return &Config{
		LogLevel:           "INFO",
		ObfuscateUrls:      true,
		AllCategoryLive:    "All channels",
		AllCategoryVod:     "All movies",
		AllCategorySeries:  "All series",
		CachedAllCategory:  "All (cached)",
		CacheCleanDays:     15,
		EPGConfidence:      30,
		EPGCleanDays:       5,
		EPGTimeout:         30 * time.Second,
		ProxyStartTimeout:  5 * time.Second,
		ProgressTimeout:    4 * time.Second,
		BeingReadTimeout:   5 * time.Second,
		AccountLockTimeout: time.Second,
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing/invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.RoamingDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			config.RoamingDir = filepath.Join(dir, "sfvip-launcher")
		} else {
			config.RoamingDir = "sfvip-launcher"
		}
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	if config.AllCategoryLive == "" {
		config.AllCategoryLive = "All channels"
	}
	if config.AllCategoryVod == "" {
		config.AllCategoryVod = "All movies"
	}
	if config.AllCategorySeries == "" {
		config.AllCategorySeries = "All series"
	}
	if config.CachedAllCategory == "" {
		config.CachedAllCategory = "All (cached)"
	}
	if config.CacheCleanDays <= 0 {
		config.CacheCleanDays = 15
	}
	if config.CacheMarkerHeader == "" {
		config.CacheMarkerHeader = "X-Catalog-Cache"
	}
	if config.EPGConfidence < 0 {
		config.EPGConfidence = 0
	}
	if config.EPGConfidence > 100 {
		config.EPGConfidence = 100
	}
	if config.EPGCleanDays <= 0 {
		config.EPGCleanDays = 5
	}
	if config.EPGTimeout <= 0 {
		config.EPGTimeout = 30 * time.Second
	}
	if config.ProxyStartTimeout <= 0 {
		config.ProxyStartTimeout = 5 * time.Second
	}
	if config.ProgressTimeout <= 0 {
		config.ProgressTimeout = 4 * time.Second
	}
	if config.BeingReadTimeout <= 0 {
		config.BeingReadTimeout = 5 * time.Second
	}
	if config.AccountLockTimeout <= 0 {
		config.AccountLockTimeout = time.Second
	}
}

// CacheDir returns the catalog cache directory under the roaming dir.
func (c *Config) CacheDir() string {
	return filepath.Join(c.RoamingDir, "cache")
}

// EPGCacheDir returns the EPG cache directory under the roaming dir.
func (c *Config) EPGCacheDir() string {
	return filepath.Join(c.RoamingDir, "epg")
}

// CADir returns where the MITM certificate authority key pair lives.
func (c *Config) CADir() string {
	return filepath.Join(c.RoamingDir, "ca")
}

// RestorePoolPath returns the shared proxies-to-restore pool file.
func (c *Config) RestorePoolPath() string {
	return filepath.Join(c.RoamingDir, "ProxiesToRestore.json")
}

// EventTimePath returns the marker file used purely for its mtime, shared by
// every launcher instance to tell internal account-DB writes from external ones.
func (c *Config) EventTimePath() string {
	return filepath.Join(c.RoamingDir, "LastInternalWrite")
}

// LogPath returns the rotating log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.RoamingDir, "launcher.log")
}

// JournalPath returns the SQLite flow journal path.
func (c *Config) JournalPath() string {
	return filepath.Join(c.RoamingDir, "journal.db")
}
