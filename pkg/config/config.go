package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/pario-ai/ladder/pkg/logging"
	"github.com/pario-ai/ladder/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all ladder configuration.
type Config struct {
	Providers   []ProviderConfig        `yaml:"providers"`
	Routes      []RouteConfig           `yaml:"routes"`
	Embedding   EmbeddingConfig         `yaml:"embedding"`
	Tiers       TiersConfig             `yaml:"tiers"`
	Cache       CacheConfig             `yaml:"cache"`
	Telemetry   TelemetryConfig         `yaml:"telemetry"`
	Router      RouterConfig            `yaml:"router"`
	Recommender RecommenderConfig       `yaml:"recommender"`
	Escalation  models.EscalationConfig `yaml:"escalation"`
	Logging     logging.Config          `yaml:"logging"`
	Metrics     MetricsConfig           `yaml:"metrics"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Type      string        `yaml:"type"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `yaml:"burst"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RouteConfig maps a model name to an ordered list of provider targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// EmbeddingConfig selects the provider used for semantic cache lookups.
type EmbeddingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// TiersConfig maps tiers to default models and pricing.
type TiersConfig struct {
	Models  map[models.Tier]string             `yaml:"models"`
	Pricing map[models.Tier]models.TierPricing `yaml:"pricing"`
}

// CacheConfig controls the hybrid response cache.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxMemoryBytes      int64         `yaml:"max_memory_bytes"`
	TTL                 time.Duration `yaml:"ttl"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	SemanticScope       string        `yaml:"semantic_scope"`
	Persist             bool          `yaml:"persist"`
	DBPath              string        `yaml:"db_path"`
}

// TelemetryConfig controls the JSONL telemetry files and their rotation.
type TelemetryConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RouterConfig tunes the adaptive model router.
type RouterConfig struct {
	MinSampleSize        int           `yaml:"min_sample_size"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	RecentWindowSize     int           `yaml:"recent_window_size"`
	MinSuccessRate       float64       `yaml:"min_success_rate"`
	Lookback             time.Duration `yaml:"lookback"`
}

// RecommenderConfig points at the pattern corpus.
type RecommenderConfig struct {
	PatternsDir  string                  `yaml:"patterns_dir"`
	FallbackCost map[models.Tier]float64 `yaml:"fallback_cost"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		Tiers: TiersConfig{
			Models: map[models.Tier]string{
				models.TierCheap:   "claude-3-5-haiku-latest",
				models.TierCapable: "claude-sonnet-4-5",
				models.TierPremium: "claude-opus-4-1",
			},
			Pricing: map[models.Tier]models.TierPricing{
				models.TierCheap:   {InputPerMillion: 0.80, OutputPerMillion: 4.00},
				models.TierCapable: {InputPerMillion: 3.00, OutputPerMillion: 15.00},
				models.TierPremium: {InputPerMillion: 15.00, OutputPerMillion: 75.00},
			},
		},
		Cache: CacheConfig{
			Enabled:             true,
			MaxMemoryBytes:      64 << 20,
			TTL:                 24 * time.Hour,
			SimilarityThreshold: 0.95,
			SemanticScope:       "key",
			DBPath:              "ladder-cache.db",
		},
		Telemetry: TelemetryConfig{
			Dir:        ".ladder/telemetry",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Router: RouterConfig{
			MinSampleSize:        10,
			FailureRateThreshold: 0.2,
			RecentWindowSize:     20,
			MinSuccessRate:       0.8,
			Lookback:             7 * 24 * time.Hour,
		},
		Recommender: RecommenderConfig{
			PatternsDir: ".ladder/patterns",
			FallbackCost: map[models.Tier]float64{
				models.TierCheap:   0.03,
				models.TierCapable: 0.09,
				models.TierPremium: 0.45,
			},
		},
		Escalation: models.DefaultEscalationConfig(),
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnv expands ${VAR} and ${VAR:-default}. Unset or empty variables
// take the default, or the empty string when none is given.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML on top of Default and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers: name is required")
		}
		if p.URL == "" {
			return fmt.Errorf("provider %q: url is required", p.Name)
		}
		if p.Type != "" && p.Type != "openai" && p.Type != "anthropic" {
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
		seen[p.Name] = true
	}
	for _, r := range c.Routes {
		for _, t := range r.Targets {
			if !seen[t.Provider] {
				return fmt.Errorf("route %q: unknown provider %q", r.Model, t.Provider)
			}
		}
	}
	if c.Embedding.Enabled && c.Embedding.Provider != "" && !seen[c.Embedding.Provider] {
		return fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider)
	}

	if th := c.Cache.SimilarityThreshold; th < 0 || th > 1 {
		return fmt.Errorf("cache.similarity_threshold %.2f outside [0,1]", th)
	}
	switch c.Cache.SemanticScope {
	case "", "key", "model", "global":
	default:
		return fmt.Errorf("cache.semantic_scope: unknown scope %q", c.Cache.SemanticScope)
	}
	if c.Cache.MaxMemoryBytes < 0 {
		return fmt.Errorf("cache.max_memory_bytes must not be negative")
	}

	if len(c.Escalation.TierOrder) == 0 {
		return fmt.Errorf("escalation.tier_order must not be empty")
	}
	for _, t := range c.Escalation.TierOrder {
		if !t.Valid() {
			return fmt.Errorf("escalation.tier_order: unknown tier %q", t)
		}
		if _, ok := c.Tiers.Pricing[t]; !ok {
			return fmt.Errorf("tiers.pricing: missing pricing for tier %q", t)
		}
	}
	if c.Escalation.MaxCost < 0 || c.Escalation.AutoApproveUnder < 0 {
		return fmt.Errorf("escalation: costs must not be negative")
	}

	if c.Router.FailureRateThreshold < 0 || c.Router.FailureRateThreshold > 1 {
		return fmt.Errorf("router.failure_rate_threshold outside [0,1]")
	}
	return nil
}

// ModelForTier returns the configured default model for t.
func (c *Config) ModelForTier(t models.Tier) string {
	return c.Tiers.Models[t]
}
