// Package cache persists compiled scripts so repeated runs and imports skip
// the compile step. Entries are keyed by the SHA-256 of the script source
// and the bytecode format version.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("bvm.cache")

// FormatVersion is mixed into every key. Bump it when the instruction wire
// table changes.
const FormatVersion = 1

// ErrNotFound is returned by Get when no entry matches.
var ErrNotFound = errors.New("cache entry not found")

// Key returns the cache key for a script source.
func Key(src []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "bvm/%d\x00", FormatVersion)
	h.Write(src)
	return hex.EncodeToString(h.Sum(nil))
}

// Store is a SQLite-backed compiled-script cache. It is safe for concurrent
// use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS scripts (
		key      TEXT PRIMARY KEY,
		name     TEXT NOT NULL,
		bytecode BLOB NOT NULL,
		created  INTEGER NOT NULL DEFAULT (unixepoch())
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	log.Debugf("opened %s", path)
	return &Store{db: db, path: path}, nil
}

// DefaultPath returns the per-user cache location.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	return filepath.Join(dir, "bvm", "scripts.db"), nil
}

// Path returns the database file the store was opened on.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the bytecode cached under key.
func (s *Store) Get(key string) ([]byte, error) {
	var code []byte
	err := s.db.QueryRow("SELECT bytecode FROM scripts WHERE key = ?", key).Scan(&code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	return code, nil
}

// Put stores bytecode compiled from the script called name.
func (s *Store) Put(key, name string, code []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO scripts (key, name, bytecode) VALUES (?, ?, ?)",
		key, name, code,
	)
	if err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}
	return nil
}

// Len returns the number of cached scripts.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM scripts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep entries.
func (s *Store) Prune(keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM scripts WHERE key NOT IN (
		SELECT key FROM scripts ORDER BY created DESC, rowid DESC LIMIT ?
	)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Infof("pruned %d entries from %s", n, s.path)
	}
	return n, nil
}
