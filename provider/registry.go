package provider

import (
	"fmt"
	"log/slog"
	"net/http"

	"receiptly/config"
	"receiptly/model"
)

// Registry holds one adapter per provider type and a selected default.
// It is built once at startup; the orchestrator receives the chosen adapter
// explicitly and never consults the registry itself.
type Registry struct {
	providers   map[string]model.Provider
	defaultName string
}

// NewRegistry builds every adapter from cfg.
//
// Adapters are created even without credentials so Get and the health
// endpoint can report them; they fail with model.ErrNotConfigured on use.
// A failed construction (only possible for a malformed Ollama host) is logged
// and the adapter is skipped, unless it is the default.
func NewRegistry(cfg config.AIConfig, httpClient *http.Client) (*Registry, error) {
	defaultType, err := ParseProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		providers:   make(map[string]model.Provider, len(AllProviderTypes)),
		defaultName: string(defaultType),
	}

	for _, t := range AllProviderTypes {
		pc := cfg.Settings(string(t))
		p, err := NewProvider(Config{
			Type:       t,
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			APIKey:     pc.APIKey,
			HTTPClient: httpClient,
		})
		if err != nil {
			if t == defaultType {
				return nil, fmt.Errorf("default provider %s: %w", t, err)
			}
			slog.Warn("[Provider] skipping provider", "provider", t, "error", err)
			continue
		}
		r.providers[string(t)] = p
		if config.Debug {
			slog.Debug("[Provider] initialized provider", "provider", t, "model", p.GetModel(), "configured", p.IsConfigured())
		}
	}

	return r, nil
}

// NewStaticRegistry wraps already-built providers, keyed by Name().
func NewStaticRegistry(defaultName string, providers ...model.Provider) *Registry {
	r := &Registry{providers: make(map[string]model.Provider, len(providers)), defaultName: defaultName}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Default returns the adapter selected by configuration.
func (r *Registry) Default() model.Provider {
	return r.providers[r.defaultName]
}

// Get returns the adapter registered under name or its alias.
func (r *Registry) Get(name string) (model.Provider, bool) {
	if p, ok := r.providers[name]; ok {
		return p, true
	}
	t, err := ParseProviderType(name)
	if err != nil {
		return nil, false
	}
	p, ok := r.providers[string(t)]
	return p, ok
}

// Status reports whether each registered adapter has credentials.
func (r *Registry) Status() map[string]bool {
	status := make(map[string]bool, len(r.providers))
	for name, p := range r.providers {
		status[name] = p.IsConfigured()
	}
	return status
}
