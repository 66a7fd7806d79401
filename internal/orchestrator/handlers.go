package orchestrator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/adaptd/internal/adaptation"
	"github.com/fyrsmithlabs/adaptd/internal/experiment"
	"github.com/fyrsmithlabs/adaptd/internal/memory"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
)

// Handler is one stage implementation, registered by name. Run writes its
// output into the accumulator's slot and returns an error only on failure;
// degraded-but-usable output is not an error.
type Handler interface {
	Name() string
	Run(ctx context.Context, req *Request, acc *Accumulator) error
}

// MemoryStage retrieves the user's memories ranked by importance.
type MemoryStage struct {
	store *memory.Store
	limit int
}

// NewMemoryStage creates the memory retrieval stage. A non-positive limit
// uses the store's default page size.
func NewMemoryStage(store *memory.Store, limit int) (*MemoryStage, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	return &MemoryStage{store: store, limit: limit}, nil
}

func (s *MemoryStage) Name() string { return pipeline.StageMemoryRetrieval }

func (s *MemoryStage) Run(ctx context.Context, req *Request, acc *Accumulator) error {
	memories, err := s.store.Query(ctx, memory.QueryOptions{
		UserID: req.UserID,
		Limit:  s.limit,
	})
	if err != nil {
		return fmt.Errorf("query memories: %w", err)
	}
	acc.SetMemories(memories)
	return nil
}

// ExperimentStage assigns the user to a personalization experiment variant
// and records the exposure. With no experiment configured it is a no-op.
type ExperimentStage struct {
	recorder     *experiment.Recorder
	experimentID string
}

// NewExperimentStage creates the experiment assignment stage.
func NewExperimentStage(recorder *experiment.Recorder, experimentID string) (*ExperimentStage, error) {
	if recorder == nil {
		return nil, fmt.Errorf("experiment recorder is required")
	}
	return &ExperimentStage{recorder: recorder, experimentID: experimentID}, nil
}

func (s *ExperimentStage) Name() string { return pipeline.StageExperimentAssignment }

func (s *ExperimentStage) Run(ctx context.Context, req *Request, acc *Accumulator) error {
	if s.experimentID == "" {
		return nil
	}
	assignment, err := s.recorder.Assign(ctx, req.UserID, s.experimentID)
	if err != nil {
		return fmt.Errorf("assign variant: %w", err)
	}
	acc.SetAssignment(assignment)
	return nil
}

// AdaptationStage resolves the prompt template and personalizes it with
// whatever context the earlier stages accumulated.
type AdaptationStage struct {
	provider adaptation.Provider
	engine   *adaptation.Engine
}

// NewAdaptationStage creates the adaptation stage.
func NewAdaptationStage(provider adaptation.Provider, engine *adaptation.Engine) (*AdaptationStage, error) {
	if provider == nil {
		return nil, fmt.Errorf("template provider is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("adaptation engine is required")
	}
	return &AdaptationStage{provider: provider, engine: engine}, nil
}

func (s *AdaptationStage) Name() string { return pipeline.StageAdaptation }

func (s *AdaptationStage) Run(ctx context.Context, req *Request, acc *Accumulator) error {
	tpl, err := s.provider.Template(ctx, req.PromptID)
	if err != nil {
		return fmt.Errorf("resolve template %q: %w", req.PromptID, err)
	}

	result, err := s.engine.Adapt(ctx, adaptation.Input{
		Template:        tpl,
		Memories:        acc.Memories(),
		Preferences:     req.Preferences,
		RequiredContext: req.RequiredContext,
		Variant:         acc.Variant(),
	})
	if err != nil {
		return fmt.Errorf("adapt: %w", err)
	}
	acc.SetAdaptation(result)
	return nil
}
