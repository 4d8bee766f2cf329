package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pario-ai/ladder/pkg/cache/sqlite"
	"github.com/pario-ai/ladder/pkg/models"
)

// fakeEmbedder returns fixed vectors for known texts and a one-hot vector
// derived from the text otherwise.
type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	v := make([]float64, 64)
	sum := 0
	for _, b := range []byte(text) {
		sum += int(b)
	}
	v[sum%64] = 1
	return v, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t testing.TB, cfg Config, opts ...Option) *Cache {
	t.Helper()
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

// assertCoherent checks that no semantic entry outlives its hash entry and
// that the memory estimate matches the stored entries.
func assertCoherent(t testing.TB, c *Cache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.semantic {
		_, ok := c.entries[k]
		assert.True(t, ok, "semantic key %s has no hash entry", k)
	}
	assert.Equal(t, len(c.entries), c.lru.Len())

	var total int64
	for el := c.lru.Front(); el != nil; el = el.Next() {
		total += el.Value.(*entry).size
	}
	assert.Equal(t, total, c.memory)
}

func TestHashHitAndMiss(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	c.Put(ctx, "bug-predict", "generate", "fix the nil deref", "haiku", []byte("patch"))

	hit, ok := c.Get(ctx, "bug-predict", "generate", "fix the nil deref", "haiku")
	require.True(t, ok)
	assert.Equal(t, "patch", string(hit.Value))
	assert.Equal(t, models.CacheTypeHash, hit.Type)

	_, ok = c.Get(ctx, "bug-predict", "generate", "fix the nil deref", "sonnet")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.HashHits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Entries)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestEmptyStringsAreValidKeys(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	c.Put(ctx, "", "", "", "", []byte("empty"))
	hit, ok := c.Get(ctx, "", "", "", "")
	require.True(t, ok)
	assert.Equal(t, "empty", string(hit.Value))
}

func TestCoherenceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := newTestCache(t, Config{SimilarityThreshold: 0.9}, WithEmbedder(&fakeEmbedder{}))
		ctx := context.Background()
		prompts := []string{"alpha", "beta", "gamma", "delta"}

		last := make(map[string]string)
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			p := prompts[rapid.IntRange(0, len(prompts)-1).Draw(rt, "prompt")]
			v := rapid.StringMatching(`[a-z0-9]{0,12}`).Draw(rt, "value")
			c.Put(ctx, "wf", "stage", p, "model", []byte(v))
			last[p] = v
		}

		for p, want := range last {
			hit, ok := c.Get(ctx, "wf", "stage", p, "model")
			if !ok {
				rt.Fatalf("missing value for %q", p)
			}
			if string(hit.Value) != want {
				rt.Fatalf("prompt %q: got %q, want %q", p, hit.Value, want)
			}
		}
	})
}

func TestThresholdZeroMatchesOrthogonal(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"stored": {1, 0},
		"query":  {0, 1},
	}}
	c := newTestCache(t, Config{SimilarityThreshold: 0}, WithEmbedder(emb))
	ctx := context.Background()

	c.Put(ctx, "w", "s", "stored", "m", []byte("v"))

	hit, ok := c.Get(ctx, "w", "s", "query", "m")
	require.True(t, ok)
	assert.Equal(t, models.CacheTypeSemantic, hit.Type)
	assert.InDelta(t, 0, hit.Similarity, 1e-12)
}

func TestThresholdZeroMatchesOpposite(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"stored":   {1, 0},
		"opposite": {-1, 0},
	}}
	c := newTestCache(t, Config{SimilarityThreshold: 0}, WithEmbedder(emb))
	ctx := context.Background()

	c.Put(ctx, "w", "s", "stored", "m", []byte("v"))

	hit, ok := c.Get(ctx, "w", "s", "opposite", "m")
	require.True(t, ok)
	assert.Equal(t, models.CacheTypeSemantic, hit.Type)
	assert.InDelta(t, -1, hit.Similarity, 1e-12)
}

func TestThresholdOneRequiresIdenticalEmbedding(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"stored":    {1, 0},
		"near":      {1, 0.0141},
		"same-dirn": {3, 0},
	}}
	c := newTestCache(t, Config{SimilarityThreshold: 1.0}, WithEmbedder(emb))
	ctx := context.Background()

	c.Put(ctx, "w", "s", "stored", "m", []byte("v"))

	_, ok := c.Get(ctx, "w", "s", "near", "m")
	assert.False(t, ok, "99.99% similar embedding must not match at threshold 1.0")

	hit, ok := c.Get(ctx, "w", "s", "stored", "m")
	require.True(t, ok)
	assert.Equal(t, models.CacheTypeHash, hit.Type)

	hit, ok = c.Get(ctx, "w", "s", "same-dirn", "m")
	require.True(t, ok)
	assert.Equal(t, models.CacheTypeSemantic, hit.Type)
}

func TestSemanticTieGoesToMostRecentlyUsed(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"first":  {1, 0},
		"second": {1, 0},
		"query":  {1, 0},
	}}
	c := newTestCache(t, Config{SimilarityThreshold: 0.5}, WithEmbedder(emb))
	ctx := context.Background()

	c.Put(ctx, "w", "s", "first", "m", []byte("one"))
	c.Put(ctx, "w", "s", "second", "m", []byte("two"))

	hit, ok := c.Get(ctx, "w", "s", "query", "m")
	require.True(t, ok)
	assert.Equal(t, "two", string(hit.Value))

	_, ok = c.Get(ctx, "w", "s", "first", "m")
	require.True(t, ok)

	hit, ok = c.Get(ctx, "w", "s", "query", "m")
	require.True(t, ok)
	assert.Equal(t, "one", string(hit.Value))
}

func TestSemanticScope(t *testing.T) {
	vectors := map[string][]float64{"stored": {1, 0}, "query": {1, 0}}
	ctx := context.Background()

	tests := []struct {
		scope                  Scope
		workflow, stage, model string
		want                   bool
	}{
		{ScopeKey, "w", "s", "m", true},
		{ScopeKey, "other", "s", "m", false},
		{ScopeKey, "w", "s", "other", false},
		{ScopeModel, "other", "other", "m", true},
		{ScopeModel, "w", "s", "other", false},
		{ScopeGlobal, "other", "other", "other", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%s/%s", tt.scope, tt.workflow, tt.stage, tt.model), func(t *testing.T) {
			c := newTestCache(t, Config{SimilarityThreshold: 0.9, Scope: tt.scope},
				WithEmbedder(&fakeEmbedder{vectors: vectors}))
			c.Put(ctx, "w", "s", "stored", "m", []byte("v"))

			_, ok := c.Get(ctx, tt.workflow, tt.stage, "query", tt.model)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestEvictionCoherence(t *testing.T) {
	c := newTestCache(t, Config{MaxMemoryBytes: 2000, SimilarityThreshold: 0.99},
		WithEmbedder(&fakeEmbedder{}))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		c.Put(ctx, "w", "s", fmt.Sprintf("prompt-%d", i), "m", []byte(fmt.Sprintf("value-%d", i)))
	}

	stats := c.Stats()
	assert.Positive(t, stats.Evictions)
	assert.Less(t, stats.Entries, int64(100))
	assert.LessOrEqual(t, stats.MemoryBytes, int64(2000))
	assertCoherent(t, c)

	hit, ok := c.Get(ctx, "w", "s", "prompt-99", "m")
	require.True(t, ok)
	assert.Equal(t, "value-99", string(hit.Value))
}

func TestEvictionIsLeastRecentlyUsed(t *testing.T) {
	// Each entry estimates to 165 bytes: 32 key + 5 one-byte fields + 128 overhead.
	c := newTestCache(t, Config{MaxMemoryBytes: 3 * 165})
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		c.Put(ctx, "w", "s", p, "m", []byte("1"))
	}
	_, ok := c.Get(ctx, "w", "s", "a", "m")
	require.True(t, ok)

	c.Put(ctx, "w", "s", "d", "m", []byte("1"))

	_, ok = c.Get(ctx, "w", "s", "b", "m")
	assert.False(t, ok, "b was least recently used")
	for _, p := range []string{"a", "c", "d"} {
		_, ok := c.Get(ctx, "w", "s", p, "m")
		assert.True(t, ok, p)
	}
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestClearKeepsStats(t *testing.T) {
	c := newTestCache(t, Config{}, WithEmbedder(&fakeEmbedder{}))
	ctx := context.Background()

	c.Put(ctx, "w", "s", "p", "m", []byte("v"))
	_, _ = c.Get(ctx, "w", "s", "p", "m")
	_, _ = c.Get(ctx, "w", "s", "missing", "m")

	c.Clear()

	stats := c.Stats()
	assert.EqualValues(t, 0, stats.Entries)
	assert.EqualValues(t, 0, stats.MemoryBytes)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assertCoherent(t, c)

	_, ok := c.Get(ctx, "w", "s", "p", "m")
	assert.False(t, ok)
}

func TestEmbedFailureDegradesToHashOnly(t *testing.T) {
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	c := newTestCache(t, Config{SimilarityThreshold: 0}, WithEmbedder(emb))
	ctx := context.Background()

	c.Put(ctx, "w", "s", "p", "m", []byte("v"))

	hit, ok := c.Get(ctx, "w", "s", "p", "m")
	require.True(t, ok)
	assert.Equal(t, models.CacheTypeHash, hit.Type)

	_, ok = c.Get(ctx, "w", "s", "other", "m")
	assert.False(t, ok)
	assertCoherent(t, c)
}

func TestExpiredEntriesMiss(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	emb := &fakeEmbedder{vectors: map[string][]float64{"p": {1, 0}, "q": {1, 0}}}
	c := newTestCache(t, Config{SimilarityThreshold: 0.5}, WithEmbedder(emb), WithClock(clock.Now))
	ctx := context.Background()

	c.PutTTL(ctx, "w", "s", "p", "m", []byte("v"), time.Minute)
	clock.Advance(2 * time.Minute)

	_, ok := c.Get(ctx, "w", "s", "q", "m")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "w", "s", "p", "m")
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 0, stats.Entries)
	assert.EqualValues(t, 0, stats.Evictions)
}

func TestPersistenceWarmsAndClears(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := &fakeEmbedder{vectors: map[string][]float64{"p": {1, 0}, "q": {1, 0.01}}}
	ctx := context.Background()

	first := newTestCache(t, Config{SimilarityThreshold: 0.9}, WithEmbedder(emb), WithPersistence(store))
	first.Put(ctx, "w", "s", "p", "m", []byte("persisted"))

	second := newTestCache(t, Config{SimilarityThreshold: 0.9}, WithEmbedder(emb), WithPersistence(store))
	hit, ok := second.Get(ctx, "w", "s", "p", "m")
	require.True(t, ok)
	assert.Equal(t, "persisted", string(hit.Value))

	hit, ok = second.Get(ctx, "w", "s", "q", "m")
	require.True(t, ok)
	assert.Equal(t, models.CacheTypeSemantic, hit.Type)

	second.Clear()
	count, err := store.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCache(t, Config{MaxMemoryBytes: 4096, SimilarityThreshold: 0.95},
		WithEmbedder(&fakeEmbedder{}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p := fmt.Sprintf("p-%d-%d", g, i%10)
				c.Put(ctx, "w", "s", p, "m", []byte(p))
				_, _ = c.Get(ctx, "w", "s", p, "m")
			}
		}(g)
	}
	wg.Wait()

	assertCoherent(t, c)
}
