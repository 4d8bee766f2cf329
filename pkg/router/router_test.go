package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/telemetry"
)

var defaultModels = map[models.Tier]string{
	models.TierCheap:   "haiku",
	models.TierCapable: "sonnet",
	models.TierPremium: "opus",
}

func newTestStore(t *testing.T) *telemetry.FileStore {
	t.Helper()
	s, err := telemetry.NewFileStore(telemetry.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRouter(store telemetry.Reader) *Router {
	cfg := DefaultConfig()
	cfg.DefaultModels = defaultModels
	return New(store, cfg)
}

// seed writes n calls for model, the first `failures` of which fail.
func seed(t *testing.T, s *telemetry.FileStore, stage, model string, tier models.Tier, n, failures int, cost float64, latencyMs int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.LogCall(context.Background(), models.LLMCallRecord{
			Workflow:   "bug-predict",
			Stage:      stage,
			Tier:       tier,
			ModelID:    model,
			Cost:       cost,
			DurationMs: latencyMs,
			Success:    i >= failures,
		}))
	}
}

func TestBestModelFallbackWithNoTelemetry(t *testing.T) {
	r := newTestRouter(newTestStore(t))
	ctx := context.Background()

	sel := r.BestModel(ctx, "bug-predict", "generate")
	assert.True(t, sel.FallbackUsed)
	assert.Equal(t, "haiku", sel.Model)
	assert.Equal(t, models.TierCheap, sel.Tier)
	assert.Equal(t, ReasonInsufficientData, sel.Reason)

	sel = r.BestModel(ctx, "bug-predict", "generate", WithTier(models.TierPremium))
	assert.True(t, sel.FallbackUsed)
	assert.Equal(t, "opus", sel.Model)
}

func TestBestModelIgnoresSmallSamples(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "generate", "perfect-but-new", models.TierCheap, 9, 0, 0.001, 100)
	seed(t, s, "generate", "steady", models.TierCapable, 10, 1, 0.01, 500)

	sel := newTestRouter(s).BestModel(context.Background(), "bug-predict", "generate")
	assert.False(t, sel.FallbackUsed)
	assert.Equal(t, "steady", sel.Model)
	require.NotNil(t, sel.Performance)
	assert.Equal(t, 10, sel.Performance.SampleSize)
	assert.InDelta(t, 0.9, sel.Performance.SuccessRate, 1e-9)
}

func TestBestModelNeverReturnsUndersampledModel(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "generate", "perfect-but-new", models.TierCheap, 9, 0, 0.001, 100)

	sel := newTestRouter(s).BestModel(context.Background(), "bug-predict", "generate")
	assert.True(t, sel.FallbackUsed)
	assert.NotEqual(t, "perfect-but-new", sel.Model)
}

func TestBestModelRanksByQualityScore(t *testing.T) {
	s := newTestStore(t)
	// Scores: expensive 80, cheap 89.9, mid 95.
	seed(t, s, "generate", "expensive", models.TierPremium, 10, 0, 2.0, 100)
	seed(t, s, "generate", "cheap", models.TierCheap, 10, 1, 0.01, 100)
	seed(t, s, "generate", "mid", models.TierCapable, 10, 0, 0.5, 100)

	r := newTestRouter(s)
	ctx := context.Background()

	sel := r.BestModel(ctx, "bug-predict", "generate")
	assert.Equal(t, "mid", sel.Model)
	assert.Equal(t, models.TierCapable, sel.Tier)

	sel = r.BestModel(ctx, "bug-predict", "generate", WithMaxCost(0.1))
	assert.Equal(t, "cheap", sel.Model)

	sel = r.BestModel(ctx, "bug-predict", "generate", WithMinSuccessRate(0.95), WithMaxCost(0.1))
	assert.True(t, sel.FallbackUsed)
	assert.Equal(t, ReasonNoCandidate, sel.Reason)

	sel = r.BestModel(ctx, "bug-predict", "generate", WithTier(models.TierPremium))
	assert.Equal(t, "expensive", sel.Model)
}

func TestBestModelTieBreaksOnLatency(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "generate", "slow", models.TierCheap, 10, 0, 0.01, 900)
	seed(t, s, "generate", "fast", models.TierCheap, 10, 0, 0.01, 200)

	r := newTestRouter(s)
	sel := r.BestModel(context.Background(), "bug-predict", "generate")
	assert.Equal(t, "fast", sel.Model)

	sel = r.BestModel(context.Background(), "bug-predict", "generate", WithMaxLatency(100))
	assert.True(t, sel.FallbackUsed)
}

func TestBestModelRespectsLookback(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "generate", "steady", models.TierCheap, 10, 0, 0.01, 100)

	future := func() time.Time { return time.Now().Add(30 * 24 * time.Hour) }
	cfg := DefaultConfig()
	cfg.DefaultModels = defaultModels
	r := New(s, cfg, WithClock(future))

	sel := r.BestModel(context.Background(), "bug-predict", "generate")
	assert.True(t, sel.FallbackUsed)

	sel = r.BestModel(context.Background(), "bug-predict", "generate", WithLookback(60*24*time.Hour))
	assert.Equal(t, "steady", sel.Model)
}

func TestConfigSetsQueryDefaults(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "generate", "flaky", models.TierCheap, 10, 3, 0.01, 100)

	future := func() time.Time { return time.Now().Add(30 * 24 * time.Hour) }
	cfg := DefaultConfig()
	cfg.DefaultModels = defaultModels
	cfg.Lookback = 60 * 24 * time.Hour
	cfg.MinSuccessRate = 0.5
	r := New(s, cfg, WithClock(future))

	sel := r.BestModel(context.Background(), "bug-predict", "generate")
	assert.False(t, sel.FallbackUsed)
	assert.Equal(t, "flaky", sel.Model)

	sel = r.BestModel(context.Background(), "bug-predict", "generate", WithMinSuccessRate(0.9))
	assert.True(t, sel.FallbackUsed)
}

type failingReader struct{}

func (failingReader) Calls(context.Context, telemetry.Query) ([]models.LLMCallRecord, error) {
	return nil, errors.New("disk gone")
}

func (failingReader) Runs(context.Context, time.Time) ([]models.WorkflowRunRecord, error) {
	return nil, errors.New("disk gone")
}

func TestBestModelFallsBackOnReadError(t *testing.T) {
	sel := newTestRouter(failingReader{}).BestModel(context.Background(), "w", "s", WithTier(models.TierCapable))
	assert.True(t, sel.FallbackUsed)
	assert.Equal(t, "sonnet", sel.Model)
	assert.Equal(t, ReasonTelemetryError, sel.Reason)
}

func TestRecommendTierUpgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient data", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, "generate", "m", models.TierCheap, 9, 9, 0.01, 100)

		advice := newTestRouter(s).RecommendTierUpgrade(ctx, "bug-predict", "generate")
		assert.False(t, advice.Upgrade)
		assert.Equal(t, "insufficient data", advice.Reason)
	})

	t.Run("high failure rate in recent window", func(t *testing.T) {
		s := newTestStore(t)
		// 30 successes, then 20 calls of which 7 fail: old history is ignored.
		seed(t, s, "generate", "m", models.TierCheap, 30, 0, 0.01, 100)
		seed(t, s, "generate", "m", models.TierCheap, 20, 7, 0.01, 100)

		advice := newTestRouter(s).RecommendTierUpgrade(ctx, "bug-predict", "generate")
		assert.True(t, advice.Upgrade)
		assert.Equal(t, "high failure rate: 0.35", advice.Reason)
		assert.InDelta(t, 0.35, advice.FailureRate, 1e-9)
		assert.Equal(t, 50, advice.SampleSize)
	})

	t.Run("threshold is exclusive", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, "generate", "m", models.TierCheap, 10, 2, 0.01, 100)

		advice := newTestRouter(s).RecommendTierUpgrade(ctx, "bug-predict", "generate")
		assert.False(t, advice.Upgrade)
		assert.Equal(t, "performance acceptable", advice.Reason)
	})
}

func TestRoutingStats(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "generate", "haiku", models.TierCheap, 4, 1, 0.01, 100)
	seed(t, s, "review", "sonnet", models.TierCapable, 2, 0, 0.05, 300)

	r := newTestRouter(s)
	ctx := context.Background()

	all, err := r.RoutingStats(ctx, "bug-predict", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 6, all.TotalCalls)
	assert.InDelta(t, (0.04+0.10)/6, all.AvgCost, 1e-9)
	assert.InDelta(t, 5.0/6.0, all.AvgSuccessRate, 1e-9)
	assert.Equal(t, []string{"haiku", "sonnet"}, all.ModelsUsed)
	assert.Equal(t, 1, all.PerformanceByModel["haiku"].RecentFailures)

	gen, err := r.RoutingStats(ctx, "bug-predict", "generate", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, gen.TotalCalls)
	assert.Equal(t, []string{"haiku"}, gen.ModelsUsed)

	none, err := r.RoutingStats(ctx, "other", "", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, none.TotalCalls)
	assert.Empty(t, none.ModelsUsed)
}

func TestCacheHitsAreNotModelCalls(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, "generate", "m", models.TierCheap, 10, 3, 0.01, 100)
	for i := 0; i < 40; i++ {
		require.NoError(t, s.LogCall(ctx, models.LLMCallRecord{
			Workflow:  "bug-predict",
			Stage:     "generate",
			Tier:      models.TierCheap,
			ModelID:   "m",
			Success:   true,
			CacheHit:  true,
			CacheType: models.CacheTypeHash,
		}))
	}
	r := newTestRouter(s)

	advice := r.RecommendTierUpgrade(ctx, "bug-predict", "generate")
	assert.True(t, advice.Upgrade)
	assert.Equal(t, 10, advice.SampleSize)
	assert.InDelta(t, 0.3, advice.FailureRate, 1e-9)

	stats, err := r.RoutingStats(ctx, "bug-predict", "generate", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalCalls)
	assert.InDelta(t, 100, stats.PerformanceByModel["m"].AvgLatencyMs, 1e-9)
}
