package adaptation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/memory"
)

const defaultMaxExamples = 3

// Engine produces personalized content from templates and retrieved context.
type Engine struct {
	logger *logging.Logger
}

// NewEngine creates an adaptation engine.
func NewEngine(logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{logger: logger.Named("adaptation")}
}

// Adapt renders the template with the available context. Resolution failures
// (missing required context, mandatory example pool resolving empty) are not
// errors: the template's fallback content is returned verbatim with a warning
// in the result metadata.
func (e *Engine) Adapt(ctx context.Context, in Input) (*Result, error) {
	if in.Template == nil {
		return nil, fmt.Errorf("template is required")
	}
	start := time.Now()
	tpl := in.Template

	contextUsed := e.sourcesRead(in)
	result := &Result{
		ContextUsed:       contextUsed,
		AdaptationApplied: []string{},
		Personalizations:  map[string]string{},
		ExperimentVariant: in.Variant,
	}

	// Required context the caller insists on must have actually resolved.
	if missing := missingSources(in.RequiredContext, contextUsed); len(missing) > 0 {
		e.logger.Debug(ctx, "falling back: required context missing",
			zap.String("template", tpl.ID), zap.Strings("missing", missing))
		return e.fallback(result, tpl, start,
			fmt.Sprintf("missing required context: %s", strings.Join(missing, ", "))), nil
	}

	var examples []Example
	if tpl.Dynamic != nil {
		examples = e.selectExamples(tpl.Dynamic, in.Memories)
		if tpl.Dynamic.ExamplesRequired && len(examples) == 0 {
			e.logger.Debug(ctx, "falling back: example pool resolved empty",
				zap.String("template", tpl.ID))
			return e.fallback(result, tpl, start, "example pool resolved empty"), nil
		}
	}

	var b strings.Builder
	b.WriteString(tpl.Content)

	if len(examples) > 0 {
		b.WriteString("\n\nExamples:")
		for _, ex := range examples {
			b.WriteString("\n- ")
			b.WriteString(ex.Text)
		}
	}

	for _, rule := range tpl.Rules {
		if !conditionHolds(rule.Condition, in) {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(rule.Instruction)
		result.AdaptationApplied = append(result.AdaptationApplied, rule.ID)
	}

	for k, v := range in.Preferences {
		result.Personalizations[k] = v
	}
	if tpl.Dynamic != nil {
		if tools := selectTools(tpl.Dynamic.Tools, in.Memories); len(tools) > 0 {
			result.Personalizations["tools"] = strings.Join(tools, ",")
		}
	}

	result.AdaptedContent = b.String()
	result.Effectiveness = effectiveness(in, len(result.AdaptationApplied), len(examples))
	result.Metadata = Metadata{
		ProcessingTime: time.Since(start),
		ContextSources: len(result.ContextUsed),
	}
	return result, nil
}

// fallback finalizes a result carrying the template's fallback content.
func (e *Engine) fallback(result *Result, tpl *Template, start time.Time, warning string) *Result {
	result.AdaptedContent = tpl.FallbackContent
	result.AdaptationApplied = []string{}
	result.Metadata = Metadata{
		ProcessingTime: time.Since(start),
		ContextSources: len(result.ContextUsed),
		Warnings:       []string{warning},
	}
	return result
}

// sourcesRead lists the context sources that actually resolved, in a stable
// order: memory types first, then preferences, then experiment.
func (e *Engine) sourcesRead(in Input) []string {
	sources := []string{}
	present := map[memory.Type]bool{}
	for _, m := range in.Memories {
		present[m.Type] = true
	}
	for _, t := range memory.AllTypes() {
		if present[t] {
			sources = append(sources, sourceMemoryPrefix+string(t))
		}
	}
	if len(in.Preferences) > 0 {
		sources = append(sources, SourcePreferences)
	}
	if in.Variant != "" {
		sources = append(sources, SourceExperiment)
	}
	return sources
}

func missingSources(required, available []string) []string {
	if len(required) == 0 {
		return nil
	}
	have := make(map[string]bool, len(available))
	for _, s := range available {
		have[s] = true
	}
	var missing []string
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

// selectExamples applies the declared strategy to the example pool, bounded
// by MaxExamples. With tag_match, only examples overlapping the retrieved
// memories' relevance tags qualify.
func (e *Engine) selectExamples(dc *DynamicContext, memories []*memory.Memory) []Example {
	max := dc.MaxExamples
	if max <= 0 {
		max = defaultMaxExamples
	}
	pool := dc.Examples
	if len(pool) == 0 {
		return nil
	}

	switch dc.Strategy {
	case StrategyRandom:
		shuffled := append([]Example(nil), pool...)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		return shuffled[:min(max, len(shuffled))]

	case StrategyTagMatch:
		tagSet := map[string]bool{}
		for _, m := range memories {
			for _, tag := range m.RelevanceTags {
				tagSet[tag] = true
			}
		}
		type scored struct {
			ex    Example
			score int
			order int
		}
		var matched []scored
		for i, ex := range pool {
			score := 0
			for _, tag := range ex.Tags {
				if tagSet[tag] {
					score++
				}
			}
			if score > 0 {
				matched = append(matched, scored{ex, score, i})
			}
		}
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].score != matched[j].score {
				return matched[i].score > matched[j].score
			}
			return matched[i].order < matched[j].order
		})
		out := make([]Example, 0, min(max, len(matched)))
		for _, m := range matched[:min(max, len(matched))] {
			out = append(out, m.ex)
		}
		return out

	default: // StrategyFirstN and unset
		return pool[:min(max, len(pool))]
	}
}

// selectTools includes a tool when every criteria tag appears on some
// retrieved memory. Tools without criteria are always included.
func selectTools(tools []ToolSpec, memories []*memory.Memory) []string {
	if len(tools) == 0 {
		return nil
	}
	tagSet := map[string]bool{}
	for _, m := range memories {
		for _, tag := range m.RelevanceTags {
			tagSet[tag] = true
		}
	}
	var out []string
	for _, tool := range tools {
		ok := true
		for _, c := range tool.Criteria {
			if !tagSet[c] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, tool.Name)
		}
	}
	return out
}

// conditionHolds evaluates a rule condition against the available context.
// All non-zero condition fields must hold.
func conditionHolds(c RuleCondition, in Input) bool {
	if c.MemoryType != "" {
		found := false
		for _, m := range in.Memories {
			if m.Type == c.MemoryType && m.ImportanceScore >= c.MinImportance {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Tag != "" {
		found := false
		for _, m := range in.Memories {
			for _, tag := range m.RelevanceTags {
				if tag == c.Tag {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	if c.PreferenceKey != "" {
		if _, ok := in.Preferences[c.PreferenceKey]; !ok {
			return false
		}
	}
	return true
}

// effectiveness is a bounded [0,1] quality estimate of the adaptation: more
// resolved context and more applied rules score higher.
func effectiveness(in Input, rulesApplied, examplesUsed int) float64 {
	score := 0.25
	if len(in.Memories) > 0 {
		score += 0.25
	}
	if examplesUsed > 0 {
		score += 0.15
	}
	if in.Variant != "" {
		score += 0.1
	}
	score += 0.1 * float64(min(rulesApplied, 3))
	if score > 1 {
		score = 1
	}
	return score
}
