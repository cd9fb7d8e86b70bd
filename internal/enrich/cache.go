package enrich

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Cache is the disk-backed key/value store behind the Enrichment Engine
// (§4.6): one file under the pipeline's cache directory, private to the
// running process, recreated empty on every start.
type Cache struct {
	db *sql.DB
}

// OpenCache creates (or truncates, if one already exists) the cache file
// at path and prepares its single table.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("enrich: open cache %s: %w", path, err)
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS taxa`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enrich: reset cache %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE taxa (key TEXT PRIMARY KEY, docs TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enrich: create cache schema %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying file handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached taxon list for key and whether an entry (possibly
// empty, an authoritative negative) exists.
func (c *Cache) Get(key string) ([][]byte, bool, error) {
	var raw string
	err := c.db.QueryRow(`SELECT docs FROM taxa WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("enrich: cache get %s: %w", key, err)
	}
	var docs [][]byte
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, false, fmt.Errorf("enrich: cache decode %s: %w", key, err)
	}
	return docs, true, nil
}

// Put stores docs (possibly an empty slice) under key, overwriting any
// prior entry.
func (c *Cache) Put(key string, docs [][]byte) error {
	if docs == nil {
		docs = [][]byte{}
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("enrich: cache encode %s: %w", key, err)
	}
	_, err = c.db.Exec(`INSERT INTO taxa (key, docs) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET docs = excluded.docs`, key, string(raw))
	if err != nil {
		return fmt.Errorf("enrich: cache put %s: %w", key, err)
	}
	return nil
}
