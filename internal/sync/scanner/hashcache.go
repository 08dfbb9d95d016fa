package scanner

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	sqlite "github.com/openmined/s3sync/internal/db"
)

const hashCacheVersion = 1

const hashCacheSchema = `
CREATE TABLE IF NOT EXISTS hash_cache (
    path TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    mod_time INTEGER NOT NULL, -- unix nanoseconds
    md5 TEXT NOT NULL,
    updated_at TEXT NOT NULL   -- RFC3339
);
`

const defaultHashCacheSize = 16384

type hashKey struct {
	size    int64
	modTime int64
}

type hashValue struct {
	hashKey
	md5 string
}

type dbHashRow struct {
	Path      string `db:"path"`
	Size      int64  `db:"size"`
	ModTime   int64  `db:"mod_time"`
	MD5       string `db:"md5"`
	UpdatedAt string `db:"updated_at"`
}

// HashCache remembers file digests keyed by absolute path. An entry is valid
// only while the file's size and mtime are unchanged. The in-memory LRU is
// backed by an optional SQLite table so digests survive restarts.
type HashCache struct {
	mem *lru.Cache[string, hashValue]
	db  *sqlx.DB
}

// NewHashCache creates a cache. db may be nil for a memory-only cache.
func NewHashCache(db *sqlx.DB) (*HashCache, error) {
	mem, err := lru.New[string, hashValue](defaultHashCacheSize)
	if err != nil {
		return nil, err
	}

	if db != nil {
		if err := sqlite.Migrate(db, "hash_cache", hashCacheVersion, hashCacheSchema); err != nil {
			return nil, fmt.Errorf("init hash cache schema: %w", err)
		}
	}

	return &HashCache{mem: mem, db: db}, nil
}

// Get returns the digest for path if it was recorded for the same size and
// mtime.
func (c *HashCache) Get(path string, size int64, modTime time.Time) (string, bool) {
	key := hashKey{size: size, modTime: modTime.UnixNano()}

	if v, ok := c.mem.Get(path); ok {
		if v.hashKey == key {
			return v.md5, true
		}
		c.mem.Remove(path)
		return "", false
	}

	if c.db == nil {
		return "", false
	}

	var row dbHashRow
	err := c.db.Get(&row, "SELECT path, size, mod_time, md5, updated_at FROM hash_cache WHERE path = ?", path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	} else if err != nil {
		slog.Warn("hash cache read", "path", path, "error", err)
		return "", false
	}

	if row.Size != key.size || row.ModTime != key.modTime {
		return "", false
	}
	c.mem.Add(path, hashValue{hashKey: key, md5: row.MD5})
	return row.MD5, true
}

func (c *HashCache) Put(path string, size int64, modTime time.Time, md5 string) {
	v := hashValue{hashKey: hashKey{size: size, modTime: modTime.UnixNano()}, md5: md5}
	c.mem.Add(path, v)

	if c.db == nil {
		return
	}
	_, err := c.db.NamedExec(`INSERT OR REPLACE INTO hash_cache (path, size, mod_time, md5, updated_at)
		VALUES (:path, :size, :mod_time, :md5, :updated_at)`, dbHashRow{
		Path:      path,
		Size:      size,
		ModTime:   v.modTime,
		MD5:       md5,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Warn("hash cache write", "path", path, "error", err)
	}
}

// Forget drops a path, e.g. after the file was deleted.
func (c *HashCache) Forget(path string) {
	c.mem.Remove(path)
	if c.db != nil {
		if _, err := c.db.Exec("DELETE FROM hash_cache WHERE path = ?", path); err != nil {
			slog.Warn("hash cache delete", "path", path, "error", err)
		}
	}
}

func (c *HashCache) Len() int {
	return c.mem.Len()
}
