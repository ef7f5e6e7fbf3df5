// Package userconf abstracts the per-user key/value store the player uses to
// record its configuration directory. On Windows this is the registry; on
// other systems a conventional dotfile stands in so the launch cycle stays
// testable everywhere.
package userconf

// Store is a read-only view of the user-scoped key/value store.
type Store interface {
	// GetString returns the value at section/key, or "" when unset.
	GetString(section, key string) string
}

// Memory is an in-memory Store double for tests.
type Memory map[string]string

// GetString returns the value stored under "section\key".
func (m Memory) GetString(section, key string) string {
	return m[section+`\`+key]
}

// Set records a value under "section\key".
func (m Memory) Set(section, key, value string) {
	m[section+`\`+key] = value
}
