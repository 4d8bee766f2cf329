// Package telemetry persists LLM call and workflow run records as append-only
// JSON Lines files with size-based rotation.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/metrics"
	"github.com/pario-ai/ladder/pkg/models"
)

const (
	CallsFile = "llm_calls.jsonl"
	RunsFile  = "workflow_runs.jsonl"
)

// Recorder appends telemetry records.
type Recorder interface {
	// LogCall appends one call record.
	LogCall(ctx context.Context, rec models.LLMCallRecord) error
	// LogRun appends one run summary record.
	LogRun(ctx context.Context, rec models.WorkflowRunRecord) error
}

// Reader queries telemetry records.
type Reader interface {
	// Calls returns call records matching q, oldest first.
	Calls(ctx context.Context, q Query) ([]models.LLMCallRecord, error)
	// Runs returns run records completed at or after since, oldest first.
	Runs(ctx context.Context, since time.Time) ([]models.WorkflowRunRecord, error)
}

// Store is a Recorder that can also be read.
type Store interface {
	Recorder
	Reader
	Close() error
}

// Query filters call records. Empty fields match everything.
type Query struct {
	Workflow string
	Stage    string
	Tier     models.Tier
	ModelID  string
	Since    time.Time
	// Limit keeps only the most recent Limit matches when > 0.
	Limit int
}

func (q Query) match(rec *models.LLMCallRecord) bool {
	if q.Workflow != "" && rec.Workflow != q.Workflow {
		return false
	}
	if q.Stage != "" && rec.Stage != q.Stage {
		return false
	}
	if q.Tier != "" && rec.Tier != q.Tier {
		return false
	}
	if q.ModelID != "" && rec.ModelID != q.ModelID {
		return false
	}
	if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// Config controls file locations and rotation.
type Config struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger used for write failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *FileStore) { s.logger = l }
}

// WithClock overrides the clock used to default record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// FileStore implements Store on two rotating JSONL files.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	calls  *lumberjack.Logger
	runs   *lumberjack.Logger
	logger zerolog.Logger
	now    func() time.Time
}

// NewFileStore creates the telemetry directory and opens both logs lazily.
func NewFileStore(cfg Config, opts ...Option) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, apperr.Validation("telemetry dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, apperr.Persistence("create telemetry dir", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}

	newLog := func(name string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}

	s := &FileStore{
		dir:    cfg.Dir,
		calls:  newLog(CallsFile),
		runs:   newLog(RunsFile),
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the telemetry directory.
func (s *FileStore) Dir() string { return s.dir }

// LogCall fills in envelope fields, call id and timestamp, then appends rec.
func (s *FileStore) LogCall(_ context.Context, rec models.LLMCallRecord) error {
	rec.Version = models.TelemetrySchemaVersion
	rec.Kind = models.KindLLMCall
	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	return s.append(s.calls, models.KindLLMCall, rec)
}

// LogRun fills in envelope fields and appends rec.
func (s *FileStore) LogRun(_ context.Context, rec models.WorkflowRunRecord) error {
	rec.Version = models.TelemetrySchemaVersion
	rec.Kind = models.KindWorkflowRun
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.now().UTC()
	}
	return s.append(s.runs, models.KindWorkflowRun, rec)
}

func (s *FileStore) append(w *lumberjack.Logger, kind string, rec any) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return apperr.Persistence("encode "+kind+" record", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	// One Write per line: lumberjack rotates before a write that would overflow,
	// so a line never straddles two files.
	if _, err := w.Write(line); err != nil {
		metrics.TelemetryWriteErrors.WithLabelValues(kind).Inc()
		s.logger.Warn().Err(err).Str("kind", kind).Msg("telemetry append failed")
		return apperr.Persistence("append "+kind+" record", err)
	}
	return nil
}

// Rotate forces both logs to rotate.
func (s *FileStore) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, w := range map[string]*lumberjack.Logger{models.KindLLMCall: s.calls, models.KindWorkflowRun: s.runs} {
		if err := w.Rotate(); err != nil {
			metrics.TelemetryWriteErrors.WithLabelValues(kind).Inc()
			return apperr.Persistence(fmt.Sprintf("rotate %s log", kind), err)
		}
	}
	return nil
}

// Close closes both logs.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.calls.Close()
	if rerr := s.runs.Close(); err == nil {
		err = rerr
	}
	return err
}

// Calls reads call records without taking the writer lock.
func (s *FileStore) Calls(ctx context.Context, q Query) ([]models.LLMCallRecord, error) {
	return ReadCalls(ctx, s.dir, q)
}

// Runs reads run records without taking the writer lock.
func (s *FileStore) Runs(ctx context.Context, since time.Time) ([]models.WorkflowRunRecord, error) {
	return ReadRuns(ctx, s.dir, since)
}

// Stats aggregates calls and runs since the given time.
func (s *FileStore) Stats(ctx context.Context, since time.Time) (models.TelemetryStats, error) {
	return ReadStats(ctx, s.dir, since)
}
