package adaptation

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/adaptd/internal/memory"
)

// Errors for template resolution.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrEmptyTemplateID  = errors.New("template ID cannot be empty")
)

// Context-source descriptors reported in Result.ContextUsed.
const (
	SourcePreferences  = "preferences"
	SourceExperiment   = "experiment"
	sourceMemoryPrefix = "memory:"
)

// SelectionStrategy picks examples from a template's pool.
type SelectionStrategy string

const (
	// StrategyFirstN takes examples in declared order.
	StrategyFirstN SelectionStrategy = "first_n"

	// StrategyTagMatch ranks examples by tag overlap with the retrieved
	// memories' relevance tags, ties broken by declared order.
	StrategyTagMatch SelectionStrategy = "tag_match"

	// StrategyRandom samples examples uniformly without replacement.
	StrategyRandom SelectionStrategy = "random"
)

// Valid reports whether s is a known strategy.
func (s SelectionStrategy) Valid() bool {
	switch s {
	case StrategyFirstN, StrategyTagMatch, StrategyRandom:
		return true
	}
	return false
}

// Example is one entry in a template's example pool.
type Example struct {
	ID   string   `koanf:"id" json:"id"`
	Text string   `koanf:"text" json:"text"`
	Tags []string `koanf:"tags" json:"tags,omitempty"`
}

// ToolSpec declares a tool the template can expose, gated by criteria tags.
type ToolSpec struct {
	Name     string   `koanf:"name" json:"name"`
	Criteria []string `koanf:"criteria" json:"criteria,omitempty"`
}

// RuleCondition gates a rule's activation. All non-zero fields must hold.
type RuleCondition struct {
	// MemoryType requires at least one retrieved memory of this type.
	MemoryType memory.Type `koanf:"memory_type" json:"memory_type,omitempty"`

	// MinImportance is the importance floor for MemoryType matches.
	MinImportance float64 `koanf:"min_importance" json:"min_importance,omitempty"`

	// Tag requires some retrieved memory to carry this relevance tag.
	Tag string `koanf:"tag" json:"tag,omitempty"`

	// PreferenceKey requires the caller preferences to contain this key.
	PreferenceKey string `koanf:"preference_key" json:"preference_key,omitempty"`
}

// Rule is an adaptation rule: when its condition holds, the instruction is
// appended to the adapted content and the rule ID is reported as applied.
type Rule struct {
	ID          string        `koanf:"id" json:"id"`
	Condition   RuleCondition `koanf:"condition" json:"condition"`
	Instruction string        `koanf:"instruction" json:"instruction"`
}

// DynamicContext is a template's dynamic-context definition.
type DynamicContext struct {
	Strategy SelectionStrategy `koanf:"strategy" json:"strategy"`

	// MaxExamples bounds the selected example count. Defaults to 3.
	MaxExamples int `koanf:"max_examples" json:"max_examples"`

	// ExamplesRequired makes an empty pool a resolution failure.
	ExamplesRequired bool `koanf:"examples_required" json:"examples_required"`

	Examples []Example  `koanf:"examples" json:"examples,omitempty"`
	Tools    []ToolSpec `koanf:"tools" json:"tools,omitempty"`
}

// Template is the prompt template metadata consumed by the engine.
type Template struct {
	ID string `koanf:"id" json:"id"`

	// Content is the static base content.
	Content string `koanf:"content" json:"content"`

	// FallbackContent is returned verbatim on any resolution failure.
	FallbackContent string `koanf:"fallback_content" json:"fallback_content"`

	Dynamic *DynamicContext `koanf:"dynamic" json:"dynamic,omitempty"`
	Rules   []Rule          `koanf:"rules" json:"rules,omitempty"`
}

// Provider resolves prompt IDs to templates.
type Provider interface {
	Template(ctx context.Context, promptID string) (*Template, error)
}

// Input is everything the engine consumes for one adaptation.
type Input struct {
	Template        *Template
	Memories        []*memory.Memory
	Preferences     map[string]string
	RequiredContext []string

	// Variant is the experiment variant, empty when unassigned.
	Variant string
}

// Metadata describes how a result was produced.
type Metadata struct {
	ProcessingTime time.Duration `json:"processing_time"`
	ContextSources int           `json:"context_sources"`
	Warnings       []string      `json:"warnings,omitempty"`
}

// Result is a personalized rendering of a template.
type Result struct {
	AdaptedContent    string            `json:"adapted_content"`
	ContextUsed       []string          `json:"context_used"`
	AdaptationApplied []string          `json:"adaptation_applied"`
	Personalizations  map[string]string `json:"personalizations"`
	ExperimentVariant string            `json:"experiment_variant,omitempty"`
	Effectiveness     float64           `json:"effectiveness"`
	Metadata          Metadata          `json:"metadata"`
}

// Clone returns a deep copy, used when a cached result is served again.
func (r *Result) Clone() *Result {
	out := *r
	out.ContextUsed = append([]string(nil), r.ContextUsed...)
	out.AdaptationApplied = append([]string(nil), r.AdaptationApplied...)
	out.Metadata.Warnings = append([]string(nil), r.Metadata.Warnings...)
	out.Personalizations = make(map[string]string, len(r.Personalizations))
	for k, v := range r.Personalizations {
		out.Personalizations[k] = v
	}
	return &out
}
