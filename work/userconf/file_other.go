//go:build !windows

package userconf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// fileStore reads a flat JSON map from the user config dir, keyed by
// "section\key" the way the registry paths are spelled.
type fileStore struct {
	path string
}

// System returns the file-backed store standing in for the registry.
func System() Store {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return fileStore{path: filepath.Join(dir, "sfvip-launcher", "userconf.json")}
}

func (s fileStore) GetString(section, key string) string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return ""
	}
	// registry paths are case-insensitive; match in kind
	want := strings.ToLower(section + `\` + key)
	for k, v := range values {
		if strings.ToLower(k) == want {
			return v
		}
	}
	return ""
}
