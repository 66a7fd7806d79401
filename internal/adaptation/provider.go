package adaptation

import (
	"context"
	"fmt"
)

// StaticProvider serves templates from an in-memory map. Templates are loaded
// once at startup from configuration; the provider is read-only afterwards.
type StaticProvider struct {
	templates map[string]*Template
}

// NewStaticProvider creates a provider from the given templates.
func NewStaticProvider(templates []*Template) (*StaticProvider, error) {
	m := make(map[string]*Template, len(templates))
	for _, t := range templates {
		if t.ID == "" {
			return nil, ErrEmptyTemplateID
		}
		if _, ok := m[t.ID]; ok {
			return nil, fmt.Errorf("duplicate template %q", t.ID)
		}
		if t.Dynamic != nil && t.Dynamic.Strategy != "" && !t.Dynamic.Strategy.Valid() {
			return nil, fmt.Errorf("template %q: unknown selection strategy %q", t.ID, t.Dynamic.Strategy)
		}
		m[t.ID] = t
	}
	return &StaticProvider{templates: m}, nil
}

// Template returns the template for promptID or ErrTemplateNotFound.
func (p *StaticProvider) Template(_ context.Context, promptID string) (*Template, error) {
	t, ok := p.templates[promptID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, promptID)
	}
	return t, nil
}
