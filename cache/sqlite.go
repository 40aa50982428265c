package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// MemoryDSN opens a shared in-memory database.
const MemoryDSN = "file::memory:?cache=shared"

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	now        func() time.Time
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
// Expiry is kept in Unix milliseconds.
func NewSQLiteCache(filename string, opts ...Option) (*SQLiteCache, error) {
	if filename == "" {
		filename = MemoryDSN
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			expires INTEGER,
			bytes BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite cache setup: %w", err)
		}
	}
	return &SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
		now:        newOptions(opts).now,
	}, nil
}

func (s *SQLiteCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	entry := Entry{Key: key}
	var expires int64
	err := s.db.QueryRowContext(ctx, "SELECT expires, bytes FROM cache WHERE key = ?", key).Scan(&expires, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry.Expires = time.UnixMilli(expires)
	if entry.expired(s.now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *SQLiteCache) Put(ctx context.Context, entry Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, expires, bytes) VALUES (?, ?, ?)",
		entry.Key, entry.Expires.UnixMilli(), entry.Bytes)
	return err
}

// Sweep deletes expired entries and returns how many were removed.
func (s *SQLiteCache) Sweep(ctx context.Context) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	result, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE expires <= ?", s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
