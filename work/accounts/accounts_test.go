package accounts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, database string) *Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Database.json")
	require.NoError(t, os.WriteFile(path, []byte(database), 0o644))
	return NewStore(path, filepath.Join(dir, "event_time"), time.Second)
}

func TestStripTrailingCommas(t *testing.T) {
	for raw, want := range map[string]string{
		`{"a":1,}`:                `{"a":1}`,
		`[1,2,]`:                  `[1,2]`,
		`{"a":[1,],"b":{"c":2,}}`: `{"a":[1],"b":{"c":2}}`,
		`{"a":"x,}"}`:             `{"a":"x,}"}`,
		`{"a":"\",}"}`:            `{"a":"\",}"}`,
		`{"a":1}`:                 `{"a":1}`,
	} {
		assert.Equal(t, want, string(StripTrailingCommas([]byte(raw))), raw)
	}
}

func TestLoadTolerantDatabase(t *testing.T) {
	store := testStore(t, `[
  {
    "Name": "Home",
    "Address": "http://portal.example.com",
    "HttpProxy": "http://proxy:8080",
  },
]`)
	accounts, err := store.Load()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Home", accounts[0].Name)
	assert.Equal(t, "http://proxy:8080", accounts[0].HttpProxy)
}

func TestLoadCorruptDatabaseYieldsEmpty(t *testing.T) {
	store := testStore(t, `[{"Name": "Home"`)
	accounts, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestUnknownFieldsSurviveSave(t *testing.T) {
	store := testStore(t, `[
  {
    "Name": "Home",
    "Address": "http://portal.example.com",
    "HttpProxy": "",
    "EpgUrl": "http://epg.example.com/guide.xml",
    "MediaLibrary": {"Enabled": true}
  }
]`)
	accounts, err := store.Load()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.NoError(t, store.Save(accounts))

	data, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	assert.JSONEq(t, `"http://epg.example.com/guide.xml"`, string(raw[0]["EpgUrl"]))
	assert.JSONEq(t, `{"Enabled": true}`, string(raw[0]["MediaLibrary"]))
}

func TestSetProxiesThenRestoreRoundTrips(t *testing.T) {
	store := testStore(t, `[]`)
	original := []Account{
		{Name: "Home", Address: "http://one.example.com", HttpProxy: "http://proxy:8080"},
		{Name: "Travel", Address: "http://two.example.com", HttpProxy: ""},
	}
	require.NoError(t, store.Save(original))
	baseline, err := os.ReadFile(store.Path)
	require.NoError(t, err)

	mapping := map[string]string{
		"http://proxy:8080": "http://127.0.0.1:40001",
		"":                  "http://127.0.0.1:40002",
	}
	require.NoError(t, store.SetProxies(mapping))

	rewritten, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:40001", rewritten[0].HttpProxy)
	assert.Equal(t, "http://127.0.0.1:40002", rewritten[1].HttpProxy)

	require.NoError(t, store.RestoreProxies(mapping))
	restored, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	assert.Equal(t, string(baseline), string(restored))
}

func TestSetProxiesKeepsExternalEdits(t *testing.T) {
	store := testStore(t, `[]`)
	require.NoError(t, store.Save([]Account{
		{Name: "Home", Address: "http://one.example.com", HttpProxy: "http://proxy:8080"},
	}))
	mapping := map[string]string{"http://proxy:8080": "http://127.0.0.1:40001"}
	require.NoError(t, store.SetProxies(mapping))

	// user renames the account while the proxy is rewritten
	accounts, err := store.Load()
	require.NoError(t, err)
	accounts[0].Name = "Renamed"
	require.NoError(t, store.Save(accounts))

	require.NoError(t, store.RestoreProxies(mapping))
	restored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "Renamed", restored[0].Name)
	assert.Equal(t, "http://proxy:8080", restored[0].HttpProxy)
}

func TestPlaylistAccountsUntouched(t *testing.T) {
	store := testStore(t, `[]`)
	require.NoError(t, store.Save([]Account{
		{Name: "List", Address: "http://example.com/list.m3u8", HttpProxy: ""},
		{Name: "Portal", Address: "http://portal.example.com", HttpProxy: ""},
	}))
	require.NoError(t, store.SetProxies(map[string]string{"": "http://127.0.0.1:40001"}))

	accounts, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "", accounts[0].HttpProxy)
	assert.Equal(t, "http://127.0.0.1:40001", accounts[1].HttpProxy)
}

func TestUpstreamSet(t *testing.T) {
	accounts := []Account{
		{Name: "A", Address: "http://a.example.com", HttpProxy: "http://proxy:8080"},
		{Name: "B", Address: "http://b.example.com", HttpProxy: " http://proxy:8080 "},
		{Name: "C", Address: "http://c.example.com", HttpProxy: ""},
		{Name: "D", Address: "http://d.example.com/list.m3u", HttpProxy: "http://ignored:1"},
	}
	set := UpstreamSet(accounts)
	assert.Len(t, set, 2)
	assert.Contains(t, set, "http://proxy:8080")
	assert.Contains(t, set, "")
}

func TestDuplicateNamesDisambiguated(t *testing.T) {
	store := testStore(t, `[]`)
	require.NoError(t, store.Save([]Account{
		{Name: "Home", Address: "http://a.example.com"},
		{Name: "Home", Address: "http://b.example.com"},
		{Name: "Home", Address: "http://c.example.com"},
		{Name: "Other", Address: "http://d.example.com"},
	}))
	require.NoError(t, store.SetProxies(nil))

	accounts, err := store.Load()
	require.NoError(t, err)
	names := []string{accounts[0].Name, accounts[1].Name, accounts[2].Name, accounts[3].Name}
	assert.Equal(t, []string{"Home", "Home2", "Home3", "Other"}, names)
}
