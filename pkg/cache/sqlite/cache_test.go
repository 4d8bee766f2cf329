package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/ladder/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(key string, created time.Time, ttl time.Duration) models.CacheEntry {
	return models.CacheEntry{
		Key:            key,
		Workflow:       "bug-predict",
		Stage:          "generate",
		Model:          "claude-3-5-haiku-latest",
		Prompt:         "prompt " + key,
		Value:          []byte(`{"response":"` + key + `"}`),
		Embedding:      []float64{0.5, -0.25, 1},
		CreatedAt:      created,
		LastAccessedAt: created,
		TTL:            ttl,
	}
}

func TestPutAndLoad(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.Put(entry("k1", now, time.Hour)))

	entries, err := s.Load(now)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "k1", got.Key)
	assert.Equal(t, "bug-predict", got.Workflow)
	assert.Equal(t, `{"response":"k1"}`, string(got.Value))
	assert.Equal(t, []float64{0.5, -0.25, 1}, got.Embedding)
	assert.Equal(t, time.Hour, got.TTL)
	assert.Equal(t, now.UnixNano(), got.CreatedAt.UnixNano())
}

func TestPutReplaces(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.Put(entry("k1", now, time.Hour)))
	e := entry("k1", now, time.Hour)
	e.Value = []byte("second")
	require.NoError(t, s.Put(e))

	entries, err := s.Load(now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", string(entries[0].Value))
}

func TestLoadSkipsExpiredAndOrdersByAccess(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	recent := entry("recent", now, time.Hour)
	older := entry("older", now.Add(-time.Minute), time.Hour)
	expired := entry("expired", now.Add(-2*time.Hour), time.Hour)
	forever := entry("forever", now.Add(-48*time.Hour), 0)

	for _, e := range []models.CacheEntry{recent, older, expired, forever} {
		require.NoError(t, s.Put(e))
	}

	entries, err := s.Load(now)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "forever", entries[0].Key)
	assert.Equal(t, "older", entries[1].Key)
	assert.Equal(t, "recent", entries[2].Key)
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.Put(entry("a", now, time.Hour)))
	require.NoError(t, s.Put(entry("b", now, time.Hour)))
	require.NoError(t, s.Put(entry("old", now.Add(-2*time.Hour), time.Hour)))

	require.NoError(t, s.Delete("a"))
	count, err := s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	require.NoError(t, s.Clear(true, now))
	count, err = s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, s.Clear(false, now))
	count, err = s.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestEmbeddingRoundTripEmpty(t *testing.T) {
	assert.Nil(t, encodeEmbedding(nil))
	assert.Nil(t, decodeEmbedding([]byte{1, 2, 3}))
}
