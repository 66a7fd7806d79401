package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Errors for pipeline resolution and validation.
var (
	ErrNotFound        = errors.New("unknown pipeline")
	ErrInvalidPipeline = errors.New("invalid pipeline config")
)

// Stage names known to the orchestrator. Configs may reference any registered
// handler name; these are the built-in ones.
const (
	StageMemoryRetrieval      = "memory_retrieval"
	StageExperimentAssignment = "experiment_assignment"
	StageAdaptation           = "adaptation"
)

// FallbackStrategy is the policy used to produce a usable result when a
// required stage fails or the pipeline times out.
type FallbackStrategy string

const (
	// FallbackStatic returns the template's static fallback content with no
	// personalization. This is the default.
	FallbackStatic FallbackStrategy = "static_fallback"

	// FallbackSkipAdaptation returns the template's base content plus
	// whatever memory and experiment data resolved before the failure.
	FallbackSkipAdaptation FallbackStrategy = "skip_adaptation"

	// FallbackUseCached serves the last successful adaptation for the same
	// (user, prompt) pair, degrading to FallbackStatic on a cache miss.
	FallbackUseCached FallbackStrategy = "use_cached"
)

// Valid reports whether f is a member of the closed strategy set.
func (f FallbackStrategy) Valid() bool {
	switch f {
	case FallbackStatic, FallbackSkipAdaptation, FallbackUseCached:
		return true
	}
	return false
}

// Stage describes one unit of work in a pipeline.
type Stage struct {
	// Name identifies the handler to run.
	Name string `koanf:"name" json:"name"`

	// Required stages abort the pipeline on failure; optional ones degrade.
	Required bool `koanf:"required" json:"required"`

	// Timeout bounds waiting on this stage's handler.
	Timeout time.Duration `koanf:"timeout" json:"timeout"`

	// Group marks concurrent execution: adjacent stages sharing the same
	// non-zero group run together, each racing its own timeout. Zero means
	// sequential.
	Group int `koanf:"group" json:"group,omitempty"`
}

// Config is an immutable named pipeline.
type Config struct {
	Name         string           `koanf:"name" json:"name"`
	Description  string           `koanf:"description" json:"description"`
	Stages       []Stage          `koanf:"stages" json:"stages"`
	TotalTimeout time.Duration    `koanf:"total_timeout" json:"total_timeout"`
	Fallback     FallbackStrategy `koanf:"fallback_strategy" json:"fallback_strategy"`
}

// Validate checks a config for structural errors.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPipeline)
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("%w: %s has no stages", ErrInvalidPipeline, c.Name)
	}
	if c.TotalTimeout <= 0 {
		return fmt.Errorf("%w: %s total timeout must be positive", ErrInvalidPipeline, c.Name)
	}
	if !c.Fallback.Valid() {
		return fmt.Errorf("%w: %s fallback strategy %q", ErrInvalidPipeline, c.Name, c.Fallback)
	}
	seen := make(map[string]bool, len(c.Stages))
	for _, st := range c.Stages {
		if st.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed stage", ErrInvalidPipeline, c.Name)
		}
		if seen[st.Name] {
			return fmt.Errorf("%w: %s declares stage %s twice", ErrInvalidPipeline, c.Name, st.Name)
		}
		seen[st.Name] = true
		if st.Timeout <= 0 {
			return fmt.Errorf("%w: %s stage %s timeout must be positive", ErrInvalidPipeline, c.Name, st.Name)
		}
	}
	return nil
}

// Summary is the list-view projection of a config.
type Summary struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	TotalTimeout time.Duration `json:"total_timeout"`
}

// Defaults returns the built-in pipelines.
func Defaults() []Config {
	return []Config{
		{
			Name:        "default",
			Description: "Full personalization: memory and experiment lookup in parallel, then adaptation",
			Stages: []Stage{
				{Name: StageMemoryRetrieval, Required: false, Timeout: 300 * time.Millisecond, Group: 1},
				{Name: StageExperimentAssignment, Required: false, Timeout: 150 * time.Millisecond, Group: 1},
				{Name: StageAdaptation, Required: true, Timeout: 500 * time.Millisecond},
			},
			TotalTimeout: time.Second,
			Fallback:     FallbackStatic,
		},
		{
			Name:        "fast",
			Description: "Adaptation only, tight budget, no memory lookup",
			Stages: []Stage{
				{Name: StageAdaptation, Required: true, Timeout: 150 * time.Millisecond},
			},
			TotalTimeout: 250 * time.Millisecond,
			Fallback:     FallbackStatic,
		},
		{
			Name:        "deep",
			Description: "Thorough personalization with a generous budget and cached fallback",
			Stages: []Stage{
				{Name: StageMemoryRetrieval, Required: true, Timeout: 800 * time.Millisecond},
				{Name: StageExperimentAssignment, Required: false, Timeout: 300 * time.Millisecond},
				{Name: StageAdaptation, Required: true, Timeout: 1200 * time.Millisecond},
			},
			TotalTimeout: 3 * time.Second,
			Fallback:     FallbackUseCached,
		},
	}
}
