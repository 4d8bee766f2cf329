package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/recommend"
	"github.com/pario-ai/ladder/pkg/router"
)

type fakeRouter struct {
	workflow string
	stage    string
	opts     int
	lookback time.Duration
}

func (f *fakeRouter) BestModel(_ context.Context, workflow, stage string, opts ...router.SelectOption) router.Selection {
	f.workflow, f.stage, f.opts = workflow, stage, len(opts)
	return router.Selection{
		Model:  "claude-sonnet-4-5",
		Tier:   models.TierCapable,
		Reason: "quality score 97.0 over 12 calls",
		Performance: &models.ModelPerformance{
			ModelID: "claude-sonnet-4-5", Tier: models.TierCapable, SuccessRate: 0.975, AvgCost: 0.25, SampleSize: 12,
		},
	}
}

func (f *fakeRouter) RecommendTierUpgrade(_ context.Context, workflow, stage string, opts ...router.SelectOption) router.UpgradeAdvice {
	f.workflow, f.stage, f.opts = workflow, stage, len(opts)
	return router.UpgradeAdvice{Upgrade: true, Reason: "high failure rate: 0.35", FailureRate: 0.35, SampleSize: 20}
}

func (f *fakeRouter) RoutingStats(_ context.Context, workflow, stage string, lookback time.Duration) (router.RoutingStats, error) {
	f.workflow, f.stage, f.lookback = workflow, stage, lookback
	return router.RoutingStats{
		TotalCalls: 3,
		PerformanceByModel: map[string]models.ModelPerformance{
			"m1": {ModelID: "m1", Tier: models.TierCheap, SampleSize: 3, SuccessRate: 1},
		},
	}, nil
}

type fakeTelemetry struct {
	since time.Time
}

func (f *fakeTelemetry) Stats(_ context.Context, since time.Time) (models.TelemetryStats, error) {
	f.since = since
	return models.TelemetryStats{
		TotalCalls: 4,
		TotalCost:  0.5,
		ByTier: map[models.Tier]models.TierUsage{
			models.TierCheap: {Calls: 4, Cost: 0.5, Successes: 3},
		},
	}, nil
}

type fakeCache struct {
	stats models.CacheStats
}

func (f *fakeCache) Stats() models.CacheStats { return f.stats }

func newTestServer(deps Deps) *Server {
	return New(deps, "test", WithLogger(zerolog.Nop()))
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	require.NoError(t, err)
	line = append(line, '\n')

	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), bytes.NewReader(line), &out))

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), "raw: %s", out.String())
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, err := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	require.NoError(t, err)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "tools/call",
		Params:  params,
	})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var res ToolCallResult
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Content, 1)
	return res
}

func TestInitialize(t *testing.T) {
	resp := sendAndReceive(t, newTestServer(Deps{}), Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var res InitializeResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "2024-11-05", res.ProtocolVersion)
	assert.Equal(t, "ladder", res.ServerInfo.Name)
	assert.Equal(t, "test", res.ServerInfo.Version)
}

func TestToolsList(t *testing.T) {
	resp := sendAndReceive(t, newTestServer(Deps{}), Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})
	require.Nil(t, resp.Error)

	data, _ := json.Marshal(resp.Result)
	var res ToolsListResult
	require.NoError(t, json.Unmarshal(data, &res))

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		_, ok := toolHandlers[tool.Name]
		assert.True(t, ok, "no handler for %s", tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"ladder_recommend_tier", "ladder_best_model", "ladder_tier_upgrade",
		"ladder_routing_stats", "ladder_telemetry_stats", "ladder_cache_stats",
	}, names)
}

func TestRecommendTierTool(t *testing.T) {
	corpus := recommend.NewCorpus([]models.Pattern{
		{ID: "1", BugType: "null_reference", Tier: models.TierCapable, Attempts: 1, Cost: 0.1, Success: true},
	})
	srv := newTestServer(Deps{Recommender: recommend.New(corpus, recommend.Config{})})

	res := callTool(t, srv, "ladder_recommend_tier", `{"description":"nil pointer in handler","files_affected":["api/x.go"],"complexity":3}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Recommended tier: capable")
	assert.Contains(t, res.Content[0].Text, "null_reference")

	res = callTool(t, srv, "ladder_recommend_tier", `{"description":"the button is blue","complexity":9}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Recommended tier: premium")
	assert.Contains(t, res.Content[0].Text, "Fallback used:     yes")
}

func TestRecommendTierToolValidation(t *testing.T) {
	srv := newTestServer(Deps{Recommender: recommend.New(nil, recommend.Config{})})

	tests := []struct {
		args string
		want string
	}{
		{`{}`, "description is required"},
		{`{"description": 42}`, "description must be a string"},
		{`{"description":"x","files_affected":"main.go"}`, "files_affected must be an array of strings"},
		{`{"description":"x","files_affected":["a.go", 1]}`, "files_affected must be an array of strings"},
		{`{"description":"x","complexity":"5"}`, "complexity must be a number"},
		{`{"description":"x","complexity":5.5}`, "complexity must be an integer"},
		{`{"description":"x","complexity":11}`, "outside [1,10]"},
		{`[1,2]`, "arguments must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			res := callTool(t, srv, "ladder_recommend_tier", tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, res.Content[0].Text, tt.want)
		})
	}
}

func TestRoutingTools(t *testing.T) {
	fr := &fakeRouter{}
	srv := newTestServer(Deps{Router: fr})

	res := callTool(t, srv, "ladder_best_model", `{"workflow":"bugfix","stage":"fix","tier":"CAPABLE","min_success_rate":0.9,"max_cost":1}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Best model: claude-sonnet-4-5 (tier capable)")
	assert.Contains(t, res.Content[0].Text, "Success rate:  97.5%")
	assert.Equal(t, "bugfix", fr.workflow)
	assert.Equal(t, "fix", fr.stage)
	// tier, lookback, min success rate, max cost
	assert.Equal(t, 4, fr.opts)

	res = callTool(t, srv, "ladder_best_model", `{"workflow":"bugfix","min_success_rate":2}`)
	assert.True(t, res.IsError)

	res = callTool(t, srv, "ladder_best_model", `{"workflow":"bugfix","tier":"huge"}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "unknown tier")

	res = callTool(t, srv, "ladder_tier_upgrade", `{"workflow":"bugfix"}`)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Upgrade recommended: yes")
	assert.Contains(t, res.Content[0].Text, "high failure rate: 0.35")

	res = callTool(t, srv, "ladder_routing_stats", `{"workflow":"bugfix","lookback_days":3}`)
	assert.False(t, res.IsError)
	assert.Equal(t, 72*time.Hour, fr.lookback)
	assert.Contains(t, res.Content[0].Text, "m1")

	res = callTool(t, srv, "ladder_routing_stats", `{"workflow":"bugfix","lookback_days":0}`)
	assert.True(t, res.IsError)

	res = callTool(t, srv, "ladder_routing_stats", `{"stage":"fix"}`)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "workflow is required")
}

func TestTelemetryStatsTool(t *testing.T) {
	ft := &fakeTelemetry{}
	srv := newTestServer(Deps{Telemetry: ft})

	res := callTool(t, srv, "ladder_telemetry_stats", `{"since":"2026-01-02"}`)
	assert.False(t, res.IsError)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), ft.since)
	assert.Contains(t, res.Content[0].Text, "Calls:          4")
	assert.Contains(t, res.Content[0].Text, "75.0%")

	res = callTool(t, srv, "ladder_telemetry_stats", `{"since":"yesterday"}`)
	assert.True(t, res.IsError)
}

func TestCacheStatsTool(t *testing.T) {
	srv := newTestServer(Deps{Cache: &fakeCache{stats: models.CacheStats{Entries: 2, Hits: 3, Misses: 1, HashHits: 2, SemanticHits: 1}}})
	res := callTool(t, srv, "ladder_cache_stats", ``)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "Hits:          3 (hash 2, semantic 1)")
	assert.Contains(t, res.Content[0].Text, "Hit Rate:      75.0%")
}

func TestUnconfiguredTools(t *testing.T) {
	srv := newTestServer(Deps{})
	for name := range toolHandlers {
		res := callTool(t, srv, name, `{"workflow":"w","description":"d"}`)
		assert.False(t, res.IsError, name)
		assert.Contains(t, res.Content[0].Text, "not configured", name)
	}
}

func TestUnknownToolAndMethod(t *testing.T) {
	srv := newTestServer(Deps{})

	res := callTool(t, srv, "nope", `{}`)
	assert.True(t, res.IsError)
	assert.Equal(t, "unknown tool: nope", res.Content[0].Text)

	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`9`), Method: "resources/list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	resp = sendAndReceive(t, srv, Request{JSONRPC: "1.0", ID: json.RawMessage(`10`), Method: "tools/list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestRunSkipsNotificationsAndReportsParseErrors(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`not json`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, newTestServer(Deps{}).Run(context.Background(), strings.NewReader(input), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var parseErr Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &parseErr))
	require.NotNil(t, parseErr.Error)
	assert.Equal(t, CodeParseError, parseErr.Error.Code)

	var pong Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &pong))
	assert.Nil(t, pong.Error)
	assert.Equal(t, "1", string(pong.ID))
}
