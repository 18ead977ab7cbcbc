// Package router resolves a requested model to an ordered chain of provider
// targets to try.
package router

import (
	"fmt"

	"github.com/statline-ai/statline/pkg/config"
	errs "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/provider"
	"github.com/statline-ai/statline/pkg/provider/anthropic"
	"github.com/statline-ai/statline/pkg/provider/openai"
)

// Target is one provider and the upstream model name to ask it for.
type Target struct {
	Provider provider.Provider
	Model    string
}

// Router resolves requested model names to ordered provider+model chains.
type Router struct {
	providers map[string]provider.Provider
	order     []string
	routes    []config.RouteConfig
}

// New creates a Router over providers. The first provider is the default
// for models without a configured route.
func New(routes []config.RouteConfig, providers ...provider.Provider) *Router {
	r := &Router{
		providers: make(map[string]provider.Provider, len(providers)),
		routes:    routes,
	}
	for _, p := range providers {
		if _, dup := r.providers[p.Name()]; dup {
			continue
		}
		r.providers[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	return r
}

// FromConfig builds the configured providers and a Router over them.
func FromConfig(cfg *config.Config) *Router {
	providers := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providers = append(providers, Build(pc))
	}
	return New(cfg.Router.Routes, providers...)
}

// Build creates the provider described by pc.
func Build(pc config.ProviderConfig) provider.Provider {
	if pc.Type == "anthropic" {
		return anthropic.New(pc)
	}
	return openai.New(pc)
}

// Resolve returns an ordered list of targets for the requested model.
// If the model matches a configured route, the route's targets are returned.
// Otherwise, the first provider is used with the original model name.
func (r *Router) Resolve(requestedModel string) ([]Target, error) {
	if len(r.order) == 0 {
		return nil, errs.Permanent(fmt.Errorf("no providers configured"), "no_providers")
	}

	for _, route := range r.routes {
		if route.Model != requestedModel {
			continue
		}
		var targets []Target
		for _, t := range route.Targets {
			p, ok := r.providers[t.Provider]
			if !ok {
				continue // skip unknown providers
			}
			model := t.Model
			if model == "" {
				model = requestedModel
			}
			targets = append(targets, Target{Provider: p, Model: model})
		}
		if len(targets) == 0 {
			return nil, errs.Permanent(fmt.Errorf("route %q: all providers unknown", requestedModel), "no_route")
		}
		return targets, nil
	}

	return []Target{{Provider: r.providers[r.order[0]], Model: requestedModel}}, nil
}
