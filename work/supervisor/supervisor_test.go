package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfvip-launcher/work/config"
	"sfvip-launcher/work/userconf"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	playerDir := t.TempDir()
	seed := `[
  {"Name": "Home", "Address": "http://one.example.com", "HttpProxy": "http://up:9"},
  {"Name": "Away", "Address": "http://two.example.com", "HttpProxy": "http://up:9"}
]`
	require.NoError(t, os.WriteFile(filepath.Join(playerDir, "Database.json"), []byte(seed), 0o644))

	cfg := config.Default()
	cfg.RoamingDir = t.TempDir()
	cfg.PlayerConfigDir = playerDir
	cfg.BeingReadTimeout = 200 * time.Millisecond

	s, err := New(cfg, userconf.Memory{}, Hooks{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func proxiesByName(t *testing.T, s *Supervisor) map[string]string {
	t.Helper()
	accountList, err := s.store.Load()
	require.NoError(t, err)
	byName := make(map[string]string, len(accountList))
	for _, account := range accountList {
		byName[account.Name] = account.HttpProxy
	}
	return byName
}

func TestExternalModificationRestoresUpstreams(t *testing.T) {
	s := newTestSupervisor(t)
	mapping := map[string]string{"http://up:9": "http://127.0.0.1:40001"}
	require.NoError(t, s.pool.Put(mapping))
	t.Cleanup(func() { s.pool.Remove() })
	require.NoError(t, s.store.SetProxies(mapping))

	// the player saves the database back with the local URLs it holds in
	// memory, plus an edit of its own
	accountList, err := s.store.Load()
	require.NoError(t, err)
	for i := range accountList {
		if accountList[i].Name == "Away" {
			accountList[i].Name = "Cabin"
		}
	}
	require.NoError(t, s.store.Save(accountList))

	s.onExternalModification(mapping)

	byName := proxiesByName(t, s)
	assert.Equal(t, map[string]string{
		"Home":  "http://up:9",
		"Cabin": "http://up:9",
	}, byName)
}

func TestExternalModificationKeepsUntrackedProxies(t *testing.T) {
	s := newTestSupervisor(t)
	mapping := map[string]string{"http://up:9": "http://127.0.0.1:40002"}
	require.NoError(t, s.pool.Put(mapping))
	t.Cleanup(func() { s.pool.Remove() })
	require.NoError(t, s.store.SetProxies(mapping))

	// an external writer points one account somewhere the launcher never
	// rewrote; that value is not ours to restore
	accountList, err := s.store.Load()
	require.NoError(t, err)
	for i := range accountList {
		if accountList[i].Name == "Home" {
			accountList[i].HttpProxy = "http://other:7"
		}
	}
	require.NoError(t, s.store.Save(accountList))

	s.onExternalModification(mapping)

	byName := proxiesByName(t, s)
	assert.Equal(t, "http://other:7", byName["Home"])
	assert.Equal(t, "http://up:9", byName["Away"])
}
