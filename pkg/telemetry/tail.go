package telemetry

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/nxadm/tail"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/models"
)

// TailOptions controls Tail.
type TailOptions struct {
	// Follow keeps reading as records are appended, across rotations, until
	// ctx is done. Otherwise Tail stops at the end of the active file.
	Follow bool
	// FromStart reads the whole active file first. When following without it,
	// only records appended after Tail starts are delivered.
	FromStart bool
}

// Tail streams raw records of the named log (CallsFile or RunsFile) in dir to fn.
func Tail(ctx context.Context, dir, name string, opts TailOptions, fn func(line []byte)) error {
	cfg := tail.Config{
		Follow:    opts.Follow,
		ReOpen:    opts.Follow,
		MustExist: !opts.Follow,
		Logger:    tail.DiscardingLogger,
	}
	if opts.Follow && !opts.FromStart {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(filepath.Join(dir, name), cfg)
	if err != nil {
		return apperr.Persistence("tail "+name, err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return apperr.Persistence("tail "+name, line.Err)
			}
			if len(line.Text) > 0 {
				fn([]byte(line.Text))
			}
		}
	}
}

// Summarize renders one raw record as a single human-readable line. Records
// that are not valid JSON are returned unchanged.
func Summarize(line []byte) string {
	if !gjson.ValidBytes(line) {
		return string(line)
	}
	r := gjson.ParseBytes(line)
	ts := r.Get("timestamp")
	if !ts.Exists() {
		ts = r.Get("completed_at")
	}
	when := ts.String()
	if t, err := time.Parse(time.RFC3339Nano, when); err == nil {
		when = t.Local().Format("2006-01-02 15:04:05")
	}

	switch r.Get("kind").String() {
	case models.KindWorkflowRun:
		return fmt.Sprintf("%s  run  %s  %s  %s  cost=$%.4f saved=%.1f%% final=%s",
			when, r.Get("run_id").String(), r.Get("workflow").String(), r.Get("state").String(),
			r.Get("total_cost").Float(), r.Get("savings_percent").Float(), r.Get("final_tier").String())
	default:
		status := "ok"
		if !r.Get("success").Bool() {
			status = "FAIL"
		}
		cached := ""
		if r.Get("cache_hit").Bool() {
			cached = " cache=" + r.Get("cache_type").String()
		}
		return fmt.Sprintf("%s  call %s/%s  %s %s  in=%d out=%d  $%.4f  %dms  %s%s",
			when, r.Get("workflow").String(), r.Get("stage").String(),
			r.Get("tier").String(), r.Get("model_id").String(),
			r.Get("input_tokens").Int(), r.Get("output_tokens").Int(),
			r.Get("cost").Float(), r.Get("duration_ms").Int(), status, cached)
	}
}
