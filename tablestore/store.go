// Package tablestore keeps flushed table states in SQLite. Storing a shard
// merges each of its entries into the state already held for the same
// table and index, so a store accumulates the output of many runs.
package tablestore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/shard"
)

var log = commonlog.GetLogger("szl.tablestore")

// ErrTableNotFound indicates the requested table is not in the store.
var ErrTableNotFound = errors.New("table not found")

const schema = `
CREATE TABLE IF NOT EXISTS tables (
	name TEXT PRIMARY KEY,
	type TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	tbl     TEXT NOT NULL REFERENCES tables(name),
	key     BLOB NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (tbl, key)
);`

// Store is a SQLite database of table states.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Debugf("opened table store %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Put merges every table of sh into the store. Either all tables are
// merged or, on error, none are.
func (s *Store) Put(sh *shard.Shard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	for i := range sh.Tables {
		if err := putTable(tx, &sh.Tables[i]); err != nil {
			tx.Rollback()
			log.Warningf("shard %s not stored: %s", sh.ID, err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing shard %s: %w", sh.ID, err)
	}
	log.Infof("stored shard %s (%d tables)", sh.ID, len(sh.Tables))
	return nil
}

func putTable(tx *sql.Tx, t *shard.Table) error {
	var stored string
	err := tx.QueryRow("SELECT type FROM tables WHERE name = ?", t.Name).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec("INSERT INTO tables (name, type) VALUES (?, ?)", t.Name, t.Type); err != nil {
			return fmt.Errorf("creating table %s: %w", t.Name, err)
		}
	case err != nil:
		return fmt.Errorf("querying table %s: %w", t.Name, err)
	case stored != t.Type:
		return fmt.Errorf("%w: %s is stored as %q, got %q", shard.ErrTypeMismatch, t.Name, stored, t.Type)
	}

	typ, err := t.ResolveType()
	if err != nil {
		return err
	}
	w, err := emitter.NewWriter(t.Name, typ, emitter.Options{Seed: 1})
	if err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}

	for _, e := range t.Entries {
		key := nonNil(e.Key)
		var old []byte
		err := tx.QueryRow("SELECT payload FROM entries WHERE tbl = ? AND key = ?", t.Name, key).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("querying %s entry: %w", t.Name, err)
		}
		entry := w.NewEntry()
		if entry.Merge(old) != emitter.MergeOk {
			return fmt.Errorf("%w: stored state of table %s", emitter.ErrMerge, t.Name)
		}
		if entry.Merge(e.Payload) != emitter.MergeOk {
			return fmt.Errorf("%w: table %s", emitter.ErrMerge, t.Name)
		}
		_, err = tx.Exec("INSERT OR REPLACE INTO entries (tbl, key, payload) VALUES (?, ?, ?)",
			t.Name, key, entry.Flush())
		if err != nil {
			return fmt.Errorf("saving %s entry: %w", t.Name, err)
		}
	}
	return nil
}

// The unindexed key is stored as an empty blob, not NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Tables returns the stored table names in order.
func (s *Store) Tables() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM tables ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing tables: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Table returns the stored state of one table, entries in key order.
func (s *Store) Table(name string) (*shard.Table, error) {
	t := &shard.Table{Name: name}
	err := s.db.QueryRow("SELECT type FROM tables WHERE name = ?", name).Scan(&t.Type)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("querying table %s: %w", name, err)
	}

	rows, err := s.db.Query("SELECT key, payload FROM entries WHERE tbl = ? ORDER BY key", name)
	if err != nil {
		return nil, fmt.Errorf("querying %s entries: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var e shard.Entry
		if err := rows.Scan(&e.Key, &e.Payload); err != nil {
			return nil, fmt.Errorf("reading %s entry: %w", name, err)
		}
		t.Entries = append(t.Entries, e)
	}
	return t, rows.Err()
}

// Snapshot returns the whole store as a shard.
func (s *Store) Snapshot() (*shard.Shard, error) {
	names, err := s.Tables()
	if err != nil {
		return nil, err
	}
	sh := &shard.Shard{Version: shard.Version, ID: uuid.New(), Source: s.path}
	for _, name := range names {
		t, err := s.Table(name)
		if err != nil {
			return nil, err
		}
		sh.Tables = append(sh.Tables, *t)
	}
	return sh, nil
}

// Drop removes a table and its entries.
func (s *Store) Drop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE tbl = ?", name); err != nil {
		return fmt.Errorf("dropping %s entries: %w", name, err)
	}
	res, err := tx.Exec("DELETE FROM tables WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("dropping table %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return tx.Commit()
}
