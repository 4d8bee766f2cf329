package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/ladder/pkg/models"
)

func TestTailReadsToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.LogCall(ctx, callRecord("bug-predict", "generate", models.TierCheap, true, 0.01)))
	require.NoError(t, s.LogCall(ctx, callRecord("bug-predict", "generate", models.TierCapable, false, 0.2)))

	var lines []string
	err := Tail(ctx, s.Dir(), CallsFile, TailOptions{}, func(line []byte) {
		lines = append(lines, Summarize(line))
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "call bug-predict/generate")
	assert.Contains(t, lines[0], "cheap model-cheap")
	assert.Contains(t, lines[0], " ok")
	assert.Contains(t, lines[1], "FAIL")
}

func TestTailMissingFile(t *testing.T) {
	err := Tail(context.Background(), t.TempDir(), RunsFile, TailOptions{}, func([]byte) {})
	assert.Error(t, err)
}

func TestTailFollowStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Tail(ctx, s.Dir(), CallsFile, TailOptions{Follow: true}, func([]byte) {})
	assert.NoError(t, err)
}

func TestSummarize(t *testing.T) {
	run := `{"v":1,"kind":"workflow_run","run_id":"r1","workflow":"bug-predict","completed_at":"2026-01-02T03:04:05Z","state":"done","total_cost":0.0125,"savings_percent":40.5,"final_tier":"capable"}`
	out := Summarize([]byte(run))
	assert.Contains(t, out, "run  r1  bug-predict  done")
	assert.Contains(t, out, "cost=$0.0125")
	assert.Contains(t, out, "saved=40.5%")
	assert.Contains(t, out, "final=capable")

	call := `{"kind":"llm_call","workflow":"w","stage":"s","tier":"cheap","model_id":"m","input_tokens":10,"output_tokens":5,"cost":0.001,"duration_ms":7,"success":true,"cache_hit":true,"cache_type":"semantic"}`
	out = Summarize([]byte(call))
	assert.Contains(t, out, "call w/s  cheap m  in=10 out=5  $0.0010  7ms  ok cache=semantic")

	assert.Equal(t, "not json", Summarize([]byte("not json")))
}
