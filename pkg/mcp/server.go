// Package mcp exposes ladder's recommendation, routing and reporting queries
// as MCP tools over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/ladder/pkg/models"
	"github.com/pario-ai/ladder/pkg/recommend"
	"github.com/pario-ai/ladder/pkg/router"
)

// TierRecommender recommends a starting tier.
type TierRecommender interface {
	Recommend(req recommend.Request) (models.TierRecommendation, error)
}

// ModelRouter answers routing queries from telemetry.
type ModelRouter interface {
	BestModel(ctx context.Context, workflow, stage string, opts ...router.SelectOption) router.Selection
	RecommendTierUpgrade(ctx context.Context, workflow, stage string, opts ...router.SelectOption) router.UpgradeAdvice
	RoutingStats(ctx context.Context, workflow, stage string, lookback time.Duration) (router.RoutingStats, error)
}

// StatsReader aggregates telemetry.
type StatsReader interface {
	Stats(ctx context.Context, since time.Time) (models.TelemetryStats, error)
}

// CacheStatter provides cache statistics without coupling to a concrete cache implementation.
type CacheStatter interface {
	Stats() models.CacheStats
}

// Deps are the components behind the tools. Any of them may be nil; the
// matching tools then report that the component is not configured.
type Deps struct {
	Recommender TierRecommender
	Router      ModelRouter
	Telemetry   StatsReader
	Cache       CacheStatter
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides the time source used for lookback windows.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	deps    Deps
	version string
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a new MCP Server.
func New(deps Deps, version string, opts ...Option) *Server {
	s := &Server{
		deps:    deps,
		version: version,
		logger:  log.Logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, rpcError(nil, CodeParseError, "parse error"))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			// notification, no response
			continue
		}
		s.writeResponse(w, resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		return rpcError(req.ID, CodeInvalidRequest, "invalid request")
	}
	switch req.Method {
	case "initialize":
		return result(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return rpcError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return rpcError(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return result(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	args, err := parseArguments(params.Arguments)
	if err != nil {
		return result(req.ID, errorResult(err.Error()))
	}

	start := s.now()
	res := handler(ctx, s, args)
	s.logger.Debug().Str("tool", params.Name).Bool("is_error", res.IsError).
		Dur("took", s.now().Sub(start)).Msg("mcp tool call")
	return result(req.ID, res)
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("mcp: marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error().Err(err).Msg("mcp: write response")
	}
}
