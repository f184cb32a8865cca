// Package cachestore persists cache metadata across runs. Provider-side
// caches outlive a process, so the registry that remembers their names
// should too. Semantics stay best-effort: the store is a cache of cache
// names, never a source of truth.
package cachestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"promptbatch/internal/command"
	"promptbatch/internal/engine"
)

// Store is a sqlite-backed engine.CacheRegistry.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open creates or opens the cache metadata database under dir.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "cache_registry.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			mode       TEXT NOT NULL,
			artifacts  TEXT,
			created_at INTEGER NOT NULL,
			ttl_ns     INTEGER NOT NULL
		)`)
	return err
}

// Lookup returns the recorded entry for key. Expired entries are treated as
// absent and reaped opportunistically.
func (s *Store) Lookup(key string) (engine.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT name, mode, artifacts, created_at, ttl_ns FROM cache_entries WHERE key = ?`, key)

	var (
		entry     engine.CacheEntry
		mode      string
		artifacts sql.NullString
		createdAt int64
		ttlNS     int64
	)
	if err := row.Scan(&entry.Name, &mode, &artifacts, &createdAt, &ttlNS); err != nil {
		return engine.CacheEntry{}, false
	}
	entry.Key = key
	entry.Mode = command.CacheApplication(mode)
	entry.CreatedAt = time.Unix(0, createdAt)
	entry.TTL = time.Duration(ttlNS)
	if artifacts.Valid {
		_ = json.Unmarshal([]byte(artifacts.String), &entry.Artifacts)
	}

	if entry.TTL > 0 && time.Since(entry.CreatedAt) > entry.TTL {
		_, _ = s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		return engine.CacheEntry{}, false
	}
	return entry, true
}

// Store records an entry unless one already exists for the key. Conflicts
// are ignored: losing a write race costs a duplicate provider cache at
// worst, never correctness.
func (s *Store) Store(entry engine.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifacts, err := json.Marshal(entry.Artifacts)
	if err != nil {
		artifacts = []byte("[]")
	}
	_, _ = s.db.Exec(
		`INSERT OR IGNORE INTO cache_entries (key, name, mode, artifacts, created_at, ttl_ns)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.Name, string(entry.Mode), string(artifacts),
		entry.CreatedAt.UnixNano(), int64(entry.TTL))
}

var _ engine.CacheRegistry = (*Store)(nil)
