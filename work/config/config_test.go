package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "All channels", cfg.AllCategoryLive)
	assert.Equal(t, "All (cached)", cfg.CachedAllCategory)
	assert.Equal(t, 15, cfg.CacheCleanDays)
	assert.Equal(t, 30, cfg.EPGConfidence)
	assert.Equal(t, 30*time.Second, cfg.EPGTimeout)
	assert.Equal(t, 4*time.Second, cfg.ProgressTimeout)
	assert.Equal(t, "X-Catalog-Cache", cfg.CacheMarkerHeader)
	assert.NotEmpty(t, cfg.RoamingDir)
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"logLevel": "DEBUG",
		"allCategoryVod": "Everything",
		"epgUrl": "http://guide.example.com/guide.xml.gz",
		"epgConfidence": 75,
		"epgTimeout": "90s",
		"progressTimeout": "10s",
		"statusPort": 48675
	}`), 0o644))

	cfg := Load(path)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "Everything", cfg.AllCategoryVod)
	assert.Equal(t, "All series", cfg.AllCategorySeries, "unset fields keep defaults")
	assert.Equal(t, "http://guide.example.com/guide.xml.gz", cfg.EPGUrl)
	assert.Equal(t, 75, cfg.EPGConfidence)
	assert.Equal(t, 90*time.Second, cfg.EPGTimeout)
	assert.Equal(t, 10*time.Second, cfg.ProgressTimeout)
	assert.Equal(t, 48675, cfg.StatusPort)
}

func TestLoadCorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logLevel": `), 0o644))
	cfg := Load(path)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestConfidenceClamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"epgConfidence": 250}`), 0o644))
	assert.Equal(t, 100, Load(path).EPGConfidence)

	require.NoError(t, os.WriteFile(path, []byte(`{"epgConfidence": -5}`), 0o644))
	assert.Equal(t, 0, Load(path).EPGConfidence)
}

func TestUnknownKeysSurviveSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"logLevel": "WARN",
		"futureFeature": {"enabled": true},
		"anotherOne": [1, 2, 3]
	}`), 0o644))

	cfg := Load(path)
	require.Contains(t, cfg.Extra, "futureFeature")

	saved := filepath.Join(dir, "saved.json")
	require.NoError(t, cfg.Save(saved))

	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `{"enabled": true}`, string(raw["futureFeature"]))
	assert.JSONEq(t, `[1, 2, 3]`, string(raw["anotherOne"]))
	assert.JSONEq(t, `"WARN"`, string(raw["logLevel"]))
}

func TestPathHelpers(t *testing.T) {
	cfg := &Config{RoamingDir: "/state"}
	assert.Equal(t, filepath.Join("/state", "cache"), cfg.CacheDir())
	assert.Equal(t, filepath.Join("/state", "epg"), cfg.EPGCacheDir())
	assert.Equal(t, filepath.Join("/state", "ca"), cfg.CADir())
	assert.Equal(t, filepath.Join("/state", "journal.db"), cfg.JournalPath())
}
