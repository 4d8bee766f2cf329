package models

import "time"

// CacheType identifies which cache tier served a lookup.
type CacheType string

const (
	CacheTypeNone     CacheType = ""
	CacheTypeHash     CacheType = "hash"
	CacheTypeSemantic CacheType = "semantic"
)

// CacheEntry stores a cached LLM response together with the scope it was produced under.
type CacheEntry struct {
	Key            string        `json:"key"`
	Workflow       string        `json:"workflow"`
	Stage          string        `json:"stage"`
	Model          string        `json:"model"`
	Prompt         string        `json:"prompt"`
	Value          []byte        `json:"value"`
	Embedding      []float64     `json:"embedding,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	TTL            time.Duration `json:"ttl"`
}

// Expired reports whether the entry outlived its TTL at now. A zero TTL never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// CacheStats reports cumulative cache counters. They survive Clear.
type CacheStats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Evictions    int64 `json:"evictions"`
	HashHits     int64 `json:"hash_hits"`
	SemanticHits int64 `json:"semantic_hits"`
	Entries      int64 `json:"entries"`
	MemoryBytes  int64 `json:"memory_bytes"`
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
