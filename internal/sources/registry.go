package sources

import (
	"fmt"
	"os"

	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

// Registry is the platform-keyed dispatch table of adapters.
type Registry struct {
	adapters map[feedback.Platform]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[feedback.Platform]Adapter)}
}

// Register installs or replaces the adapter for a platform.
func (r *Registry) Register(p feedback.Platform, a Adapter) {
	r.adapters[p] = a
}

// Get returns the adapter for a platform.
func (r *Registry) Get(p feedback.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %s", p)
	}
	return a, nil
}

// Platforms lists registered platforms in display order.
func (r *Registry) Platforms() []feedback.Platform {
	var out []feedback.Platform
	for _, p := range feedback.Platforms {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// NewDefaultRegistry wires every built-in adapter from configuration.
// Credentials are read from the environment variables the config names.
func NewDefaultRegistry(cfg *config.Config, log *logger.Logger) *Registry {
	log = logger.OrNop(log)
	timeout := cfg.Providers.HTTPTimeout()

	serp := NewSerpClient(
		cfg.Providers.SerpAPI.BaseURL,
		os.Getenv(cfg.Providers.SerpAPI.APIKeyEnv),
		cfg.Providers.SerpAPI.RequestsPerSecond,
		timeout,
	)
	apify := NewApifyClient(
		cfg.Providers.Apify.BaseURL,
		os.Getenv(cfg.Providers.Apify.TokenEnv),
		timeout,
	)

	r := NewRegistry()
	r.Register(feedback.PlatformGooglePlay, NewGooglePlayAdapter(serp, log))
	r.Register(feedback.PlatformAppStore, NewAppStoreAdapter(cfg.Providers.AppStore.BaseURL, cfg.Providers.AppStore.Country, timeout, log))
	r.Register(feedback.PlatformX, NewXAdapter(serp, log))
	r.Register(feedback.PlatformInstagram, NewInstagramAdapter(apify, log))
	r.Register(feedback.PlatformCSV, NewCSVAdapter(log))
	return r
}
