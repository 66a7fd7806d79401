package pipeline

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Registry resolves pipeline names to immutable configs. Reads are lock-free;
// Reload swaps the whole config set atomically.
type Registry struct {
	configs atomic.Pointer[map[string]Config]
}

// NewRegistry creates a registry from the given configs. Every config is
// validated; duplicate names are rejected.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(configs); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload atomically replaces the config set. On validation failure the
// previous set stays in effect.
func (r *Registry) Reload(configs []Config) error {
	next := make(map[string]Config, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, ok := next[cfg.Name]; ok {
			return fmt.Errorf("%w: duplicate pipeline %q", ErrInvalidPipeline, cfg.Name)
		}
		next[cfg.Name] = cfg
	}
	r.configs.Store(&next)
	return nil
}

// Get returns the config for name or ErrNotFound.
func (r *Registry) Get(name string) (Config, error) {
	configs := *r.configs.Load()
	cfg, ok := configs[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return cfg, nil
}

// List returns summaries of all pipelines, sorted by name.
func (r *Registry) List() []Summary {
	configs := *r.configs.Load()
	out := make([]Summary, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, Summary{
			Name:         cfg.Name,
			Description:  cfg.Description,
			TotalTimeout: cfg.TotalTimeout,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
