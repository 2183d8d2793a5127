// Package diskcache is the persistent, disk-backed extension of
// [registryclient.Client]'s in-memory version-listing cache (SPEC_FULL.md
// §4.O). It is a pure read-through cache: a miss always falls through to
// HTTP in the caller, and a corrupt cache file is treated as an empty one
// rather than a fatal error.
package diskcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vgem/vgem/internal/vgerr"
	"github.com/vgem/vgem/obslog"
	"github.com/vgem/vgem/registryclient"
)

const schema = `
CREATE TABLE IF NOT EXISTS version_cache (
	source     TEXT NOT NULL,
	name       TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	payload    BLOB NOT NULL,
	PRIMARY KEY (source, name)
);`

// Cache is a SQLite-backed implementation of registryclient.DiskCache.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists. A corrupt or unreadable existing file is not
// repaired here; callers that hit persistent errors from [Cache.Get] or
// [Cache.Put] should fall back to deleting path and calling Open again,
// matching spec.md §7's "corruption triggers a silent rebuild" policy for
// on-disk caches.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, vgerr.New(vgerr.KindIO, "diskcache.Open", "opening "+path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, vgerr.New(vgerr.KindIO, "diskcache.Open", "creating schema", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached version listing for (source, name), if any. Any
// read or decode error is treated as a cache miss (ok=false), never
// propagated: the caller always has HTTP as a fallback.
func (c *Cache) Get(ctx context.Context, source, name string) ([]registryclient.VersionRecord, bool) {
	var payload []byte
	row := c.db.QueryRowContext(ctx,
		`SELECT payload FROM version_cache WHERE source = ? AND name = ?`, source, name)
	if err := row.Scan(&payload); err != nil {
		return nil, false
	}
	var records []registryclient.VersionRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		obslog.Error(ctx, fmt.Errorf("diskcache: corrupt payload for %s/%s: %w", source, name, err)).Msg("discarding corrupt cache entry")
		return nil, false
	}
	return records, true
}

// Put writes the version listing for (source, name), replacing any prior
// entry. Write failures are logged, not returned: the cache is an
// optimization, never load-bearing for correctness.
func (c *Cache) Put(ctx context.Context, source, name string, records []registryclient.VersionRecord) {
	payload, err := json.Marshal(records)
	if err != nil {
		return
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO version_cache (source, name, fetched_at, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source, name) DO UPDATE SET fetched_at = excluded.fetched_at, payload = excluded.payload`,
		source, name, time.Now().Unix(), payload)
	if err != nil {
		obslog.Error(ctx, err).Str("source", source).Str("name", name).Msg("diskcache: write failed")
	}
}
