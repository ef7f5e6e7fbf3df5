//go:build windows

package userconf

import (
	"golang.org/x/sys/windows/registry"
)

type registryStore struct{}

// System returns the per-user registry-backed store (HKCU).
func System() Store {
	return registryStore{}
}

func (registryStore) GetString(section, key string) string {
	k, err := registry.OpenKey(registry.CURRENT_USER, section, registry.QUERY_VALUE)
	if err != nil {
		return ""
	}
	defer k.Close()

	value, _, err := k.GetStringValue(key)
	if err != nil {
		return ""
	}
	return value
}
