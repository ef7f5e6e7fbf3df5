// Package journal keeps a small SQLite log of intercepted API flows, used
// by the status endpoint to show what the proxy has been doing.
package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sfvip-launcher/work/jobs"
	"sfvip-launcher/work/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Entry is one journaled flow.
type Entry struct {
	ID        int64     `json:"id"`
	SeenAt    time.Time `json:"seen_at"`
	Listener  string    `json:"listener"`
	Server    string    `json:"server"`
	Action    string    `json:"action"`
	Status    int       `json:"status"`
	FromCache bool      `json:"served_from_cache"`
	BodyBytes int64     `json:"body_bytes"`
}

// Journal wraps the flow database. Inserts go through a single-consumer
// runner so recording a flow never blocks the listener on disk.
type Journal struct {
	db     *sql.DB
	group  *jobs.Group
	writes *jobs.Runner[Entry]
}

// Open creates or opens the journal at path in WAL mode and applies pending
// migrations.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: dir: %w", err)
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	group, err := jobs.NewGroup(1)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: writer: %w", err)
	}
	j.group = group
	j.writes = jobs.NewRunner(group, "journal", 256, j.insert)
	return j, nil
}

func (j *Journal) migrate() error {
	if _, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		fmt.Sscanf(entry.Name(), "%d_", &version)

		var applied bool
		if err := j.db.QueryRow(
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
		).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		content, err := migrations.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return err
		}
		tx, err := j.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logger.Info("journal: applied migration %s", entry.Name())
	}
	return nil
}

// Record enqueues one flow for insertion. The write happens off the flow
// path; when the queue is full the entry is dropped, the journal is never
// allowed to slow down or fail a flow.
func (j *Journal) Record(e Entry) {
	j.writes.Post(e)
}

func (j *Journal) insert(e Entry) {
	_, err := j.db.Exec(`
		INSERT INTO flows (listener, server, action, status, served_from_cache, body_bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Listener, e.Server, e.Action, e.Status, e.FromCache, e.BodyBytes)
	if err != nil {
		logger.Warn("journal: record: %v", err)
	}
}

// Tail returns the latest n entries, newest first.
func (j *Journal) Tail(n int) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, seen_at, listener, server, action, status, served_from_cache, body_bytes
		FROM flows ORDER BY id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: tail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SeenAt, &e.Listener, &e.Server, &e.Action,
			&e.Status, &e.FromCache, &e.BodyBytes); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the given number of days.
func (j *Journal) Prune(days int) {
	if _, err := j.db.Exec(
		"DELETE FROM flows WHERE seen_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", days),
	); err != nil {
		logger.Warn("journal: prune: %v", err)
	}
}

// Close drains pending inserts and closes the database.
func (j *Journal) Close() error {
	j.group.Close()
	return j.db.Close()
}
