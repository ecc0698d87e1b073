// Package provider resolves configured provider entries to clients and
// capability descriptors.
//
// # Adding a New Provider
//
// Implement registry.Client in a subpackage, expose a registration function
// that calls registry.RegisterFactory, and wire that registration from
// cmd/calliope (or tests). Nothing else changes: resolution is driven
// entirely by the factory table and the configuration entries.
package provider

import (
	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/provider/registry"
)

// Client is the provider client interface, re-exported for convenience.
type Client = registry.Client

// Registry resolves provider identifiers to clients and capabilities.
// Capabilities come from the factory table merged with per-entry overrides,
// and are available without constructing a client.
type Registry struct {
	entries map[string]config.ProviderConfig
}

// NewRegistry builds a resolving registry over the configured entries.
// Every entry is validated eagerly so misconfiguration surfaces at startup
// rather than mid-chain.
func NewRegistry(configs []config.ProviderConfig) (*Registry, error) {
	entries := make(map[string]config.ProviderConfig, len(configs))
	for _, cfg := range configs {
		name := cfg.Name
		if name == "" {
			name = cfg.Type
		}
		if err := validate(cfg); err != nil {
			return nil, err
		}
		entries[name] = cfg
	}
	return &Registry{entries: entries}, nil
}

func validate(cfg config.ProviderConfig) error {
	f, ok := registry.GetFactory(cfg.Type)
	if !ok {
		return domain.ErrConfiguration("unknown provider type: " + cfg.Type).
			WithCode(domain.ErrorCodeUnknownProvider)
	}
	if cfg.APIKey == "" {
		return domain.ErrConfiguration("provider " + cfg.Type + " has no credentials").
			WithCode(domain.ErrorCodeMissingCredentials)
	}
	if f.ValidateConfig != nil {
		return f.ValidateConfig(cfg)
	}
	return nil
}

// Lookup returns the capabilities for a provider id without constructing a
// client, so callers can make scheduling decisions first.
func (r *Registry) Lookup(providerID string) (domain.Capabilities, error) {
	cfg, ok := r.entries[providerID]
	if !ok {
		return domain.Capabilities{}, domain.ErrConfiguration("unknown provider: " + providerID).
			WithCode(domain.ErrorCodeUnknownProvider)
	}
	f, _ := registry.GetFactory(cfg.Type)
	return mergeCapabilities(f.Capabilities, cfg), nil
}

// Resolve returns a client and the capability descriptor for a provider id.
// modelID overrides the configured default model when non-empty.
func (r *Registry) Resolve(providerID, modelID string) (Client, domain.Capabilities, error) {
	cfg, ok := r.entries[providerID]
	if !ok {
		return nil, domain.Capabilities{}, domain.ErrConfiguration("unknown provider: " + providerID).
			WithCode(domain.ErrorCodeUnknownProvider)
	}
	if modelID != "" {
		cfg.Model = modelID
	}

	f, _ := registry.GetFactory(cfg.Type)
	client, err := f.Create(cfg)
	if err != nil {
		return nil, domain.Capabilities{}, err
	}
	return client, mergeCapabilities(f.Capabilities, cfg), nil
}

// Model returns the effective model id for a provider entry.
func (r *Registry) Model(providerID string) string {
	return r.entries[providerID].Model
}

func mergeCapabilities(base domain.Capabilities, cfg config.ProviderConfig) domain.Capabilities {
	caps := base
	if cfg.MaxTimeout > 0 {
		caps.MaxTimeout = cfg.MaxTimeout
	}
	if cfg.SupportsReasoning {
		caps.SupportsReasoning = true
	}
	if cfg.SupportsThinking {
		caps.SupportsThinking = true
	}
	if cfg.DisableStreaming {
		caps.SupportsStreaming = false
	}
	return caps
}
