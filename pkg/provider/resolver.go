package provider

import (
	"github.com/pario-ai/ladder/pkg/apperr"
	"github.com/pario-ai/ladder/pkg/config"
)

// Route is one provider and model to try for a generate call.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Resolver maps a tier model name to its ordered fallback chain.
type Resolver struct {
	providers []config.ProviderConfig
	byName    map[string]config.ProviderConfig
	chains    map[string][]config.RouteTarget
}

// NewResolver indexes the providers and routes in cfg.
func NewResolver(cfg *config.Config) *Resolver {
	r := &Resolver{
		providers: cfg.Providers,
		byName:    make(map[string]config.ProviderConfig, len(cfg.Providers)),
		chains:    make(map[string][]config.RouteTarget, len(cfg.Routes)),
	}
	for _, p := range cfg.Providers {
		r.byName[p.Name] = p
	}
	for _, rt := range cfg.Routes {
		if _, dup := r.chains[rt.Model]; !dup {
			r.chains[rt.Model] = rt.Targets
		}
	}
	return r
}

// Resolve returns the routes for model in the order they should be tried.
// A model without a configured chain goes to the first provider unchanged.
// Targets naming an unknown provider are skipped.
func (r *Resolver) Resolve(model string) ([]Route, error) {
	if len(r.providers) == 0 {
		return nil, apperr.Validation("no providers configured")
	}

	targets, ok := r.chains[model]
	if !ok {
		return []Route{{Provider: r.providers[0], Model: model}}, nil
	}

	routes := make([]Route, 0, len(targets))
	for _, t := range targets {
		p, known := r.byName[t.Provider]
		if !known {
			continue
		}
		m := t.Model
		if m == "" {
			m = model
		}
		routes = append(routes, Route{Provider: p, Model: m})
	}
	if len(routes) == 0 {
		return nil, apperr.Validation("model %q: no route targets a known provider", model)
	}
	return routes, nil
}

// Provider returns the named provider, or the first one when name is empty.
func (r *Resolver) Provider(name string) (config.ProviderConfig, error) {
	if len(r.providers) == 0 {
		return config.ProviderConfig{}, apperr.Validation("no providers configured")
	}
	if name == "" {
		return r.providers[0], nil
	}
	p, ok := r.byName[name]
	if !ok {
		return config.ProviderConfig{}, apperr.Validation("unknown provider %q", name)
	}
	return p, nil
}
