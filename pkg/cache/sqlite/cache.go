// Package sqlite is the persistent exact-match tier behind the hybrid cache.
// It keeps every entry with its embedding so a restarted process can warm
// both in-memory stores.
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/ladder/pkg/models"
)

// Store persists cache entries in SQLite.
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	workflow TEXT NOT NULL,
	stage TEXT NOT NULL,
	model TEXT NOT NULL,
	prompt TEXT NOT NULL,
	response BLOB,
	embedding BLOB,
	created_at INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	ttl_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_accessed ON cache_entries(last_accessed_at);
`

// New opens the database at dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// database/sql pools connections; SQLite wants a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the entries still live at now, least recently used first.
func (s *Store) Load(now time.Time) ([]models.CacheEntry, error) {
	rows, err := s.db.Query(`SELECT cache_key, workflow, stage, model, prompt, response, embedding,
		created_at, last_accessed_at, ttl_ns FROM cache_entries ORDER BY last_accessed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("cache load: %w", err)
	}
	defer rows.Close()

	var out []models.CacheEntry
	for rows.Next() {
		var (
			e                 models.CacheEntry
			emb               []byte
			created, accessed int64
			ttl               int64
		)
		if err := rows.Scan(&e.Key, &e.Workflow, &e.Stage, &e.Model, &e.Prompt, &e.Value, &emb,
			&created, &accessed, &ttl); err != nil {
			return nil, fmt.Errorf("cache load scan: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		e.LastAccessedAt = time.Unix(0, accessed)
		e.TTL = time.Duration(ttl)
		e.Embedding = decodeEmbedding(emb)
		if e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Put inserts or replaces an entry.
func (s *Store) Put(e models.CacheEntry) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache_entries
		 (cache_key, workflow, stage, model, prompt, response, embedding, created_at, last_accessed_at, ttl_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Workflow, e.Stage, e.Model, e.Prompt, e.Value, encodeEmbedding(e.Embedding),
		e.CreatedAt.UnixNano(), e.LastAccessedAt.UnixNano(), int64(e.TTL),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes the entries with the given keys.
func (s *Store) Delete(keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE cache_key = ?`, k); err != nil {
			return fmt.Errorf("cache delete: %w", err)
		}
	}
	return nil
}

// Clear removes cache entries. If expiredOnly is true, only entries expired at now are removed.
func (s *Store) Clear(expiredOnly bool, now time.Time) error {
	var err error
	if expiredOnly {
		_, err = s.db.Exec(`DELETE FROM cache_entries WHERE ttl_ns > 0 AND ? - created_at > ttl_ns`, now.UnixNano())
	} else {
		_, err = s.db.Exec(`DELETE FROM cache_entries`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Count returns the number of stored rows, expired ones included.
func (s *Store) Count() (int64, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return count, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeEmbedding(v []float64) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(f))
	}
	return b
}

func decodeEmbedding(b []byte) []float64 {
	if len(b) == 0 || len(b)%8 != 0 {
		return nil
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}
