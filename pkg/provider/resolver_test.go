package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/config"
)

func tierConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "local", URL: "http://localhost:11434"},
			{Name: "anthropic", URL: "https://api.anthropic.com", APIKey: "k", Type: "anthropic"},
		},
		Routes: []config.RouteConfig{
			{
				Model: "premium-model",
				Targets: []config.RouteTarget{
					{Provider: "anthropic"},
					{Provider: "local", Model: "llama3:70b"},
				},
			},
			{
				Model:   "premium-model",
				Targets: []config.RouteTarget{{Provider: "local"}},
			},
			{
				Model: "capable-model",
				Targets: []config.RouteTarget{
					{Provider: "gone", Model: "x"},
					{Provider: "local", Model: "qwen2.5"},
				},
			},
			{Model: "orphan", Targets: []config.RouteTarget{{Provider: "gone"}}},
		},
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(tierConfig())

	tests := []struct {
		model     string
		providers []string
		models    []string
	}{
		{"cheap-model", []string{"local"}, []string{"cheap-model"}},
		{"premium-model", []string{"anthropic", "local"}, []string{"premium-model", "llama3:70b"}},
		{"capable-model", []string{"local"}, []string{"qwen2.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			routes, err := r.Resolve(tt.model)
			require.NoError(t, err)
			var providers, models []string
			for _, rt := range routes {
				providers = append(providers, rt.Provider.Name)
				models = append(models, rt.Model)
			}
			assert.Equal(t, tt.providers, providers)
			assert.Equal(t, tt.models, models)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	_, err := NewResolver(&config.Config{}).Resolve("cheap-model")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "%v", err)

	_, err = NewResolver(tierConfig()).Resolve("orphan")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "%v", err)
	assert.ErrorContains(t, err, "orphan")
}

func TestProviderLookup(t *testing.T) {
	r := NewResolver(tierConfig())

	p, err := r.Provider("")
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name)

	p, err = r.Provider("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Type)

	_, err = r.Provider("missing")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	_, err = NewResolver(&config.Config{}).Provider("")
	assert.Error(t, err)
}
