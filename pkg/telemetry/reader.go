package telemetry

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/models"
)

// logFiles returns the rotated backups of name, oldest first, followed by the active file.
// Backup names carry a fixed-width UTC timestamp so lexical order is chronological.
// Lumberjack deletes an uncompressed backup only after its .gz is written, so
// the .gz is ignored while the original is still there.
func logFiles(dir, name string) ([]string, error) {
	ext := filepath.Ext(name)
	prefix := strings.TrimSuffix(name, ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.Persistence("list telemetry dir", err)
	}

	present := make(map[string]bool)
	var backups []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, prefix) {
			continue
		}
		if strings.HasSuffix(n, ext) || strings.HasSuffix(n, ext+".gz") {
			backups = append(backups, n)
			present[n] = true
		}
	}
	sort.Strings(backups)

	files := make([]string, 0, len(backups)+1)
	for _, b := range backups {
		if orig, gz := strings.CutSuffix(b, ".gz"); gz && present[orig] {
			continue
		}
		files = append(files, filepath.Join(dir, b))
	}
	return append(files, filepath.Join(dir, name)), nil
}

var errBadArchive = errors.New("unreadable compressed log")

func readSnapshot(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".gz") {
		return io.ReadAll(f)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadArchive, err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadArchive, err)
	}
	return data, nil
}

// maxSnapshotAttempts bounds how often a read restarts because the log rotated under it.
const maxSnapshotAttempts = 3

// beforeRead is called ahead of each file read.
var beforeRead = func(path string) {}

// snapshot reads every file of the named log. A rotation between listing and
// reading moves the active file out of the listed set, so the read restarts
// until the listing taken afterwards matches.
func snapshot(ctx context.Context, dir, name string) ([][]byte, error) {
	files, err := logFiles(dir, name)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		chunks, err := readFiles(ctx, files)
		if err != nil {
			return nil, err
		}
		after, err := logFiles(dir, name)
		if err != nil {
			return nil, err
		}
		if slices.Equal(files, after) {
			return chunks, nil
		}
		if attempt == maxSnapshotAttempts {
			log.Warn().Str("log", name).Int("attempts", attempt).Msg("telemetry log kept rotating during read")
			return chunks, nil
		}
		files = after
	}
}

func readFiles(ctx context.Context, files []string) ([][]byte, error) {
	chunks := make([][]byte, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		beforeRead(path)
		data, err := readSnapshot(path)
		switch {
		case err == nil:
			chunks = append(chunks, data)
		case errors.Is(err, fs.ErrNotExist):
			// Rotated away or not yet created.
		case errors.Is(err, errBadArchive):
			log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping telemetry archive")
		default:
			return nil, apperr.Persistence("read "+filepath.Base(path), err)
		}
	}
	return chunks, nil
}

// scan feeds every complete line of the named log to fn and returns how many
// lines fn rejected. A trailing line without a newline is an in-progress write
// and is ignored.
func scan(ctx context.Context, dir, name string, fn func(line []byte) bool) (int, error) {
	chunks, err := snapshot(ctx, dir, name)
	if err != nil {
		return 0, err
	}

	skipped := 0
	for _, data := range chunks {
		i := bytes.LastIndexByte(data, '\n')
		if i < 0 {
			continue
		}
		for _, line := range bytes.Split(data[:i], []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if !fn(line) {
				skipped++
			}
		}
	}
	return skipped, nil
}

// ReadCalls reads call records from dir. Unparsable lines are skipped.
func ReadCalls(ctx context.Context, dir string, q Query) ([]models.LLMCallRecord, error) {
	var out []models.LLMCallRecord
	_, err := scan(ctx, dir, CallsFile, func(line []byte) bool {
		var rec models.LLMCallRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false
		}
		if q.match(&rec) {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// ReadRuns reads run records completed at or after since.
func ReadRuns(ctx context.Context, dir string, since time.Time) ([]models.WorkflowRunRecord, error) {
	var out []models.WorkflowRunRecord
	_, err := scan(ctx, dir, RunsFile, func(line []byte) bool {
		var rec models.WorkflowRunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false
		}
		if since.IsZero() || !rec.CompletedAt.Before(since) {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadStats aggregates calls and runs in dir since the given time.
func ReadStats(ctx context.Context, dir string, since time.Time) (models.TelemetryStats, error) {
	stats := models.TelemetryStats{
		ByTier:     make(map[models.Tier]models.TierUsage),
		ByModel:    make(map[string]models.TierUsage),
		ByWorkflow: make(map[string]models.TierUsage),
	}

	successes := 0
	skipped, err := scan(ctx, dir, CallsFile, func(line []byte) bool {
		var rec models.LLMCallRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false
		}
		if !since.IsZero() && rec.Timestamp.Before(since) {
			return true
		}
		stats.TotalCalls++
		stats.TotalCost += rec.Cost
		stats.InputTokens += int64(rec.InputTokens)
		stats.OutputTokens += int64(rec.OutputTokens)
		if rec.CacheHit {
			stats.CacheHits++
		}
		if rec.Success {
			successes++
		}
		stats.ByTier[rec.Tier] = addUsage(stats.ByTier[rec.Tier], &rec)
		stats.ByModel[rec.ModelID] = addUsage(stats.ByModel[rec.ModelID], &rec)
		stats.ByWorkflow[rec.Workflow] = addUsage(stats.ByWorkflow[rec.Workflow], &rec)
		return true
	})
	if err != nil {
		return stats, err
	}
	stats.SkippedLines = skipped
	if stats.TotalCalls > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalCalls)
		stats.SuccessRate = float64(successes) / float64(stats.TotalCalls)
	}

	runs, err := ReadRuns(ctx, dir, since)
	if err != nil {
		return stats, err
	}
	for _, r := range runs {
		stats.TotalRuns++
		if r.Success {
			stats.SuccessfulRuns++
		}
		stats.TotalSavings += r.Savings
		stats.BaselineCost += r.BaselineCost
	}
	return stats, nil
}

func addUsage(u models.TierUsage, rec *models.LLMCallRecord) models.TierUsage {
	u.Calls++
	u.Cost += rec.Cost
	u.InputTokens += int64(rec.InputTokens)
	u.OutputTokens += int64(rec.OutputTokens)
	if rec.Success {
		u.Successes++
	}
	return u
}
