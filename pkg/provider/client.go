package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/config"
	"github.com/pario-ai/ladder/pkg/models"
)

// Provider wire formats.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

const (
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// Client calls upstream providers for generations and embeddings. It
// implements escalation.Generator.
type Client struct {
	resolver  *Resolver
	http      *http.Client
	limiters  map[string]*rate.Limiter
	maxTokens int
	logger    zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxTokens sets the completion token limit sent with every request.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client for the providers and routes in cfg.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		resolver:  NewResolver(cfg),
		http:      http.DefaultClient,
		limiters:  make(map[string]*rate.Limiter),
		maxTokens: defaultMaxTokens,
		logger:    log.Logger,
	}
	for _, p := range cfg.Providers {
		if p.RateLimit > 0 {
			burst := p.Burst
			if burst <= 0 {
				burst = 1
			}
			c.limiters[p.Name] = rate.NewLimiter(rate.Limit(p.RateLimit), burst)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends prompt to model, trying each configured route in order.
// Transport errors and 5xx responses move on to the next route; any other
// failure is returned as is.
func (c *Client) Generate(ctx context.Context, prompt, model string) (models.Generation, error) {
	routes, err := c.resolver.Resolve(model)
	if err != nil {
		return models.Generation{}, apperr.Collaborator("resolve model "+model, err)
	}

	var lastErr error
	for _, route := range routes {
		gen, status, err := c.generate(ctx, route, prompt)
		if err == nil {
			return gen, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(transportErr(status, err), status) {
			break
		}
		c.logger.Warn().Err(err).Str("provider", route.Provider.Name).Str("model", route.Model).
			Int("status", status).Msg("upstream failed, trying next")
	}
	return models.Generation{}, apperr.Collaborator("generate with "+model, lastErr)
}

// transportErr returns err when no HTTP status was received.
func transportErr(status int, err error) error {
	if status == 0 {
		return err
	}
	return nil
}

func (c *Client) generate(ctx context.Context, route Route, prompt string) (models.Generation, int, error) {
	p := route.Provider
	var (
		path    string
		headers map[string]string
		body    []byte
		err     error
	)
	switch providerType(p) {
	case TypeAnthropic:
		path = "/v1/messages"
		headers = map[string]string{"x-api-key": p.APIKey, "anthropic-version": anthropicVersion}
		body, err = json.Marshal(models.AnthropicRequest{
			Messages:  []models.ChatMessage{{Role: "user", Content: prompt}},
			MaxTokens: c.maxTokens,
		})
	default:
		path = "/v1/chat/completions"
		headers = map[string]string{"Authorization": "Bearer " + p.APIKey}
		maxTokens := c.maxTokens
		body, err = json.Marshal(models.ChatCompletionRequest{
			Messages:  []models.ChatMessage{{Role: "user", Content: prompt}},
			MaxTokens: &maxTokens,
		})
	}
	if err != nil {
		return models.Generation{}, 0, fmt.Errorf("encode request: %w", err)
	}
	body = rewriteModel(body, route.Model)

	res, err := c.call(ctx, p, path, headers, body)
	if err != nil {
		return models.Generation{}, 0, err
	}
	if res.statusCode != http.StatusOK {
		return models.Generation{}, res.statusCode, upstreamError(p.Name, res)
	}

	gen, err := parseGeneration(providerType(p), res.body)
	if err != nil {
		return models.Generation{}, res.statusCode, fmt.Errorf("%s: %w", p.Name, err)
	}
	gen.Provider = p.Name
	return gen, res.statusCode, nil
}

func providerType(p config.ProviderConfig) string {
	if strings.EqualFold(p.Type, TypeAnthropic) {
		return TypeAnthropic
	}
	return TypeOpenAI
}

// parseGeneration extracts text and token usage from a response body.
func parseGeneration(typ string, body []byte) (models.Generation, error) {
	if !gjson.ValidBytes(body) {
		return models.Generation{}, fmt.Errorf("invalid JSON response")
	}
	var gen models.Generation
	switch typ {
	case TypeAnthropic:
		var parts []string
		for _, t := range gjson.GetBytes(body, `content.#(type=="text")#.text`).Array() {
			parts = append(parts, t.String())
		}
		gen.Text = strings.Join(parts, "")
		gen.InputTokens = int(gjson.GetBytes(body, "usage.input_tokens").Int())
		gen.OutputTokens = int(gjson.GetBytes(body, "usage.output_tokens").Int())
	default:
		choice := gjson.GetBytes(body, "choices.0.message.content")
		if !choice.Exists() {
			return models.Generation{}, fmt.Errorf("response has no choices")
		}
		gen.Text = choice.String()
		gen.InputTokens = int(gjson.GetBytes(body, "usage.prompt_tokens").Int())
		gen.OutputTokens = int(gjson.GetBytes(body, "usage.completion_tokens").Int())
	}
	return gen, nil
}

func upstreamError(provider string, res *upstreamResult) error {
	msg := gjson.GetBytes(res.body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(res.body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return fmt.Errorf("%s returned %d: %s", provider, res.statusCode, msg)
}

// call waits for the provider's rate limiter and sends one request.
func (c *Client) call(ctx context.Context, p config.ProviderConfig, path string, headers map[string]string, body []byte) (*upstreamResult, error) {
	if lim, ok := c.limiters[p.Name]; ok {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limit: %w", p.Name, err)
		}
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return c.doUpstreamRequest(ctx, p.URL, path, "application/json", headers, body)
}

// upstreamResult holds the response from a single upstream attempt.
type upstreamResult struct {
	statusCode int
	body       []byte
	header     http.Header
}

// doUpstreamRequest sends a request to an upstream provider and returns the result.
func (c *Client) doUpstreamRequest(ctx context.Context, providerURL, path, contentType string, headers map[string]string, body []byte) (*upstreamResult, error) {
	target, err := url.Parse(providerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(target.String(), "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &upstreamResult{
		statusCode: resp.StatusCode,
		body:       respBody,
		header:     resp.Header,
	}, nil
}

// isRetryable returns true if the error or status code warrants trying the next route.
func isRetryable(err error, statusCode int) bool {
	if err != nil {
		return true
	}
	return statusCode >= 500
}

// rewriteModel replaces the "model" field in a JSON body with the given model name.
func rewriteModel(body []byte, model string) []byte {
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return body
	}
	return out
}

// Embedder computes embeddings through an OpenAI-compatible /v1/embeddings
// endpoint. It implements cache.Embedder.
type Embedder struct {
	client   *Client
	provider config.ProviderConfig
	model    string
}

// Embedder returns an Embedder on the named provider (the first when empty).
func (c *Client) Embedder(providerName, model string) (*Embedder, error) {
	p, err := c.resolver.Provider(providerName)
	if err != nil {
		return nil, err
	}
	return &Embedder{client: c, provider: p, model: model}, nil
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(models.EmbeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + e.provider.APIKey}

	res, err := e.client.call(ctx, e.provider, "/v1/embeddings", headers, body)
	if err != nil {
		return nil, apperr.Collaborator("embed", err)
	}
	if res.statusCode != http.StatusOK {
		return nil, apperr.Collaborator("embed", upstreamError(e.provider.Name, res))
	}

	data := gjson.GetBytes(res.body, "data.0.embedding")
	if !data.IsArray() {
		return nil, apperr.Collaborator("embed", fmt.Errorf("%s: response has no embedding", e.provider.Name))
	}
	vals := data.Array()
	vec := make([]float64, len(vals))
	for i, v := range vals {
		vec[i] = v.Float()
	}
	return vec, nil
}
