// Package cache implements the hybrid response cache: an exact hash store and
// an embedding store over the same entries, with memory-bounded LRU eviction.
//
// Both stores, the LRU list and the counters live under one mutex. Embedding a
// prompt is the only slow step and always happens before the lock is taken.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/ladder/pkg/cache/sqlite"
	"github.com/pario-ai/ladder/pkg/metrics"
	"github.com/pario-ai/ladder/pkg/models"
)

// entryOverhead approximates the per-entry bookkeeping cost in bytes.
const entryOverhead = 128

// Embedder turns text into a vector for semantic lookup.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Scope restricts which entries a semantic lookup may match.
type Scope string

const (
	// ScopeKey requires workflow, stage and model to match.
	ScopeKey Scope = "key"
	// ScopeModel requires only the model to match.
	ScopeModel Scope = "model"
	// ScopeGlobal matches any entry.
	ScopeGlobal Scope = "global"
)

// Config controls cache limits and matching.
type Config struct {
	// MaxMemoryBytes bounds the estimated memory footprint. 0 means unbounded.
	MaxMemoryBytes int64
	// TTL applies to entries written with Put. 0 means entries never expire.
	TTL                 time.Duration
	SimilarityThreshold float64
	Scope               Scope
}

// Lookup is a cache hit.
type Lookup struct {
	Key        string
	Value      []byte
	Type       models.CacheType
	Similarity float64
}

// Option configures a Cache.
type Option func(*Cache)

// WithEmbedder enables the semantic store.
func WithEmbedder(e Embedder) Option {
	return func(c *Cache) { c.embedder = e }
}

// WithPersistence writes entries through to a SQLite store and warms from it on New.
func WithPersistence(s *sqlite.Store) Option {
	return func(c *Cache) { c.persist = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type entry struct {
	models.CacheEntry
	size int64
	seq  uint64 // access sequence, higher is more recent
}

// Cache is the hybrid exact + semantic cache.
type Cache struct {
	cfg      Config
	embedder Embedder
	persist  *sqlite.Store
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	entries  map[string]*list.Element // hash store
	semantic map[string][]float64     // semantic store, keyed like entries
	lru      *list.List               // front = most recent
	memory   int64
	seq      uint64
	stats    models.CacheStats
}

// New creates a Cache. With persistence configured it loads every unexpired
// stored entry before returning.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Scope == "" {
		cfg.Scope = ScopeKey
	}
	c := &Cache{
		cfg:      cfg,
		logger:   log.Logger,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		semantic: make(map[string][]float64),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.persist != nil {
		if err := c.warm(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache) warm() error {
	stored, err := c.persist.Load(c.now())
	if err != nil {
		return err
	}

	c.mu.Lock()
	for i := range stored {
		c.insertLocked(stored[i])
	}
	evicted := c.evictLocked()
	c.mu.Unlock()

	c.persistDelete(evicted)
	c.logger.Debug().Int("entries", len(stored)).Msg("cache warmed from disk")
	return nil
}

// Get looks a prompt up by exact key, then by embedding similarity.
func (c *Cache) Get(ctx context.Context, workflow, stage, prompt, model string) (Lookup, bool) {
	key := Key(workflow, stage, prompt, model)

	c.mu.Lock()
	if hit, ok := c.hashLookupLocked(key); ok {
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues(string(models.CacheTypeHash), "hit").Inc()
		return hit, true
	}
	c.mu.Unlock()

	if c.embedder == nil {
		return c.miss()
	}

	query, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		metrics.EmbeddingFailures.WithLabelValues("get").Inc()
		c.logger.Warn().Err(err).Str("workflow", workflow).Str("stage", stage).
			Msg("embedding failed, hash-only lookup")
		return c.miss()
	}

	c.mu.Lock()
	// A concurrent Put may have landed while embedding.
	if hit, ok := c.hashLookupLocked(key); ok {
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues(string(models.CacheTypeHash), "hit").Inc()
		return hit, true
	}

	now := c.now()
	var (
		best    *list.Element
		bestSim float64
	)
	for k, emb := range c.semantic {
		el := c.entries[k]
		e := el.Value.(*entry)
		if e.Expired(now) {
			c.removeLocked(el)
			continue
		}
		if !c.inScope(e, workflow, stage, model) {
			continue
		}
		sim, ok := cosine(query, emb)
		// A zero threshold takes any candidate, opposed vectors included.
		if !ok || (c.cfg.SimilarityThreshold > 0 && sim+similarityEpsilon < c.cfg.SimilarityThreshold) {
			continue
		}
		if best == nil || sim > bestSim+similarityEpsilon ||
			(sim >= bestSim-similarityEpsilon && e.seq > best.Value.(*entry).seq) {
			best, bestSim = el, sim
		}
	}

	if best == nil {
		c.stats.Misses++
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues(string(models.CacheTypeSemantic), "miss").Inc()
		return Lookup{}, false
	}

	e := c.touchLocked(best, now)
	c.stats.Hits++
	c.stats.SemanticHits++
	hit := Lookup{Key: e.Key, Value: e.Value, Type: models.CacheTypeSemantic, Similarity: bestSim}
	c.mu.Unlock()

	metrics.CacheLookups.WithLabelValues(string(models.CacheTypeSemantic), "hit").Inc()
	return hit, true
}

func (c *Cache) miss() (Lookup, bool) {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	metrics.CacheLookups.WithLabelValues(string(models.CacheTypeHash), "miss").Inc()
	return Lookup{}, false
}

func (c *Cache) hashLookupLocked(key string) (Lookup, bool) {
	el, ok := c.entries[key]
	if !ok {
		return Lookup{}, false
	}
	now := c.now()
	if el.Value.(*entry).Expired(now) {
		c.removeLocked(el)
		return Lookup{}, false
	}
	e := c.touchLocked(el, now)
	c.stats.Hits++
	c.stats.HashHits++
	return Lookup{Key: key, Value: e.Value, Type: models.CacheTypeHash, Similarity: 1}, true
}

func (c *Cache) inScope(e *entry, workflow, stage, model string) bool {
	switch c.cfg.Scope {
	case ScopeGlobal:
		return true
	case ScopeModel:
		return e.Model == model
	default:
		return e.Workflow == workflow && e.Stage == stage && e.Model == model
	}
}

// Put stores value under the prompt's key, replacing any previous value, with the configured TTL.
func (c *Cache) Put(ctx context.Context, workflow, stage, prompt, model string, value []byte) {
	c.PutTTL(ctx, workflow, stage, prompt, model, value, c.cfg.TTL)
}

// PutTTL is Put with an explicit TTL. A zero ttl never expires.
func (c *Cache) PutTTL(ctx context.Context, workflow, stage, prompt, model string, value []byte, ttl time.Duration) {
	var emb []float64
	if c.embedder != nil {
		v, err := c.embedder.Embed(ctx, prompt)
		if err != nil {
			metrics.EmbeddingFailures.WithLabelValues("put").Inc()
			c.logger.Warn().Err(err).Str("workflow", workflow).Str("stage", stage).
				Msg("embedding failed, entry stored hash-only")
		} else {
			emb = v
		}
	}

	now := c.now()
	stored := models.CacheEntry{
		Key:            Key(workflow, stage, prompt, model),
		Workflow:       workflow,
		Stage:          stage,
		Model:          model,
		Prompt:         prompt,
		Value:          append([]byte(nil), value...),
		Embedding:      emb,
		CreatedAt:      now,
		LastAccessedAt: now,
		TTL:            ttl,
	}

	c.mu.Lock()
	if el, ok := c.entries[stored.Key]; ok && stored.Embedding == nil {
		// Same key means same prompt text, so the previous vector still applies.
		stored.Embedding = el.Value.(*entry).Embedding
	}
	c.insertLocked(stored)
	evicted := c.evictLocked()
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.Put(stored); err != nil {
			c.logger.Warn().Err(err).Msg("cache write-through failed")
		}
	}
	c.persistDelete(evicted)
}

// insertLocked adds or replaces e as the most recently used entry.
func (c *Cache) insertLocked(e models.CacheEntry) {
	if el, ok := c.entries[e.Key]; ok {
		c.removeLocked(el)
	}
	c.seq++
	ent := &entry{CacheEntry: e, size: estimateSize(&e), seq: c.seq}
	c.entries[e.Key] = c.lru.PushFront(ent)
	if len(e.Embedding) > 0 {
		c.semantic[e.Key] = e.Embedding
	}
	c.memory += ent.size
}

func (c *Cache) touchLocked(el *list.Element, now time.Time) *entry {
	e := el.Value.(*entry)
	c.seq++
	e.seq = c.seq
	e.LastAccessedAt = now
	c.lru.MoveToFront(el)
	return e
}

// removeLocked drops an entry from both stores.
func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.entries, e.Key)
	delete(c.semantic, e.Key)
	c.memory -= e.size
}

// evictLocked removes least recently used entries until memory fits and returns their keys.
func (c *Cache) evictLocked() []string {
	if c.cfg.MaxMemoryBytes <= 0 {
		return nil
	}
	var evicted []string
	for c.memory > c.cfg.MaxMemoryBytes && c.lru.Len() > 0 {
		el := c.lru.Back()
		evicted = append(evicted, el.Value.(*entry).Key)
		c.removeLocked(el)
		c.stats.Evictions++
	}
	if n := len(evicted); n > 0 {
		metrics.CacheEvictions.Add(float64(n))
	}
	return evicted
}

func (c *Cache) persistDelete(keys []string) {
	if c.persist == nil || len(keys) == 0 {
		return
	}
	if err := c.persist.Delete(keys...); err != nil {
		c.logger.Warn().Err(err).Int("keys", len(keys)).Msg("cache delete from disk failed")
	}
}

// Clear empties both stores and the access tracking. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.semantic = make(map[string][]float64)
	c.lru.Init()
	c.memory = 0
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.Clear(false, c.now()); err != nil {
			c.logger.Warn().Err(err).Msg("cache clear on disk failed")
		}
	}
}

// Stats returns a snapshot of the counters and current size.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = int64(c.lru.Len())
	s.MemoryBytes = c.memory
	return s
}

func estimateSize(e *models.CacheEntry) int64 {
	return int64(len(e.Key)+len(e.Workflow)+len(e.Stage)+len(e.Model)+len(e.Prompt)+len(e.Value)+
		8*len(e.Embedding)) + entryOverhead
}
