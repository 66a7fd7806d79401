package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/adaptd/internal/adaptation"
	"github.com/fyrsmithlabs/adaptd/internal/experiment"
	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/memory"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
)

type fixture struct {
	orch     *Orchestrator
	store    *memory.Store
	recorder *experiment.Recorder
	provider *adaptation.StaticProvider
}

func testTemplates() []*adaptation.Template {
	return []*adaptation.Template{
		{
			ID:              "p1",
			Content:         "You are a helpful assistant.",
			FallbackContent: "Generic assistant prompt.",
			Dynamic: &adaptation.DynamicContext{
				Strategy:         adaptation.StrategyTagMatch,
				MaxExamples:      2,
				ExamplesRequired: true,
				Examples: []adaptation.Example{
					{ID: "ex1", Text: "formal greeting", Tags: []string{"tone"}},
					{ID: "ex2", Text: "casual greeting", Tags: []string{"casual"}},
				},
			},
		},
	}
}

func newFixture(t *testing.T, configs []pipeline.Config) *fixture {
	t.Helper()

	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := memory.NewStore(db, logging.NewNop())
	require.NoError(t, err)

	recorder, err := experiment.NewRecorder(db, logging.NewNop())
	require.NoError(t, err)

	provider, err := adaptation.NewStaticProvider(testTemplates())
	require.NoError(t, err)

	registry, err := pipeline.NewRegistry(configs)
	require.NoError(t, err)

	orch, err := New(nil, registry, provider, logging.NewNop())
	require.NoError(t, err)

	memStage, err := NewMemoryStage(store, 20)
	require.NoError(t, err)
	expStage, err := NewExperimentStage(recorder, "exp-default")
	require.NoError(t, err)
	adaptStage, err := NewAdaptationStage(provider, adaptation.NewEngine(logging.NewNop()))
	require.NoError(t, err)

	require.NoError(t, orch.RegisterHandler(memStage))
	require.NoError(t, orch.RegisterHandler(expStage))
	require.NoError(t, orch.RegisterHandler(adaptStage))

	return &fixture{orch: orch, store: store, recorder: recorder, provider: provider}
}

// funcHandler adapts a closure into a stage handler for failure injection.
type funcHandler struct {
	name string
	run  func(ctx context.Context, req *Request, acc *Accumulator) error
}

func (h *funcHandler) Name() string { return h.name }
func (h *funcHandler) Run(ctx context.Context, req *Request, acc *Accumulator) error {
	return h.run(ctx, req, acc)
}

func TestOrchestrateUnknownPipeline(t *testing.T) {
	f := newFixture(t, pipeline.Defaults())

	res := f.orch.Orchestrate(context.Background(), &Request{PromptID: "p1", UserID: "u1"}, "does-not-exist")
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Zero(t, res.StagesExecuted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "registry", res.Errors[0].Stage)
	assert.Equal(t, "unknown pipeline", res.Errors[0].Message)
}

func TestOrchestrateValidation(t *testing.T) {
	f := newFixture(t, pipeline.Defaults())

	res := f.orch.Orchestrate(context.Background(), &Request{UserID: "u1"}, "default")
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "request", res.Errors[0].Stage)

	res = f.orch.Orchestrate(context.Background(), nil, "default")
	assert.False(t, res.Success)
}

func TestFastPipelineEmptyStoreFallsBack(t *testing.T) {
	f := newFixture(t, pipeline.Defaults())

	start := time.Now()
	res := f.orch.Orchestrate(context.Background(),
		&Request{PromptID: "p1", UserID: "u1", CurrentInput: "hi"}, "fast")
	elapsed := time.Since(start)

	require.NotNil(t, res)
	require.NotNil(t, res.Result)
	assert.True(t, res.Success)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "Generic assistant prompt.", res.Result.AdaptedContent,
		"empty store means the mandatory example pool resolves empty")
	assert.Empty(t, res.Result.ContextUsed)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestFullPipelineUsesStoredContext(t *testing.T) {
	f := newFixture(t, pipeline.Defaults())
	ctx := context.Background()

	_, err := f.store.Save(ctx, &memory.Memory{
		UserID:          "u1",
		Type:            memory.TypePreference,
		Title:           "tone",
		Content:         []byte(`{"tone":"formal"}`),
		ImportanceScore: 0.8,
		RelevanceTags:   []string{"tone"},
	})
	require.NoError(t, err)

	res := f.orch.Orchestrate(ctx, &Request{PromptID: "p1", UserID: "u1", CurrentInput: "hi"}, "default")
	require.NotNil(t, res.Result)
	assert.True(t, res.Success)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 3, res.StagesExecuted)
	assert.Contains(t, res.Result.AdaptedContent, "formal greeting")
	assert.Contains(t, res.Result.ContextUsed, "memory:preference")
	assert.NotEmpty(t, res.Result.ExperimentVariant)

	f.store.FlushAccessUpdates()
}

func TestRequiredStageTimeoutAborts(t *testing.T) {
	configs := []pipeline.Config{{
		Name: "slowpipe",
		Stages: []pipeline.Stage{
			{Name: "stall", Required: true, Timeout: 50 * time.Millisecond},
		},
		TotalTimeout: 5 * time.Second,
		Fallback:     pipeline.FallbackStatic,
	}}
	f := newFixture(t, configs)

	require.NoError(t, f.orch.RegisterHandler(&funcHandler{
		name: "stall",
		run: func(ctx context.Context, _ *Request, _ *Accumulator) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	start := time.Now()
	res := f.orch.Orchestrate(context.Background(), &Request{PromptID: "p1", UserID: "u1"}, "slowpipe")
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Equal(t, StateAborted, res.State)
	assert.Less(t, elapsed, time.Second, "abort happens at the stage timeout, not the total budget")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "stall", res.Errors[0].Stage)
	assert.Equal(t, "timeout", res.Errors[0].Message)

	require.NotNil(t, res.Result, "fallback still yields renderable content")
	assert.Equal(t, "Generic assistant prompt.", res.Result.AdaptedContent)
}

func TestOptionalStageFailureDegrades(t *testing.T) {
	configs := []pipeline.Config{{
		Name: "degrading",
		Stages: []pipeline.Stage{
			{Name: "flaky", Required: false, Timeout: 100 * time.Millisecond},
			{Name: pipeline.StageAdaptation, Required: true, Timeout: 500 * time.Millisecond},
		},
		TotalTimeout: 2 * time.Second,
		Fallback:     pipeline.FallbackStatic,
	}}
	f := newFixture(t, configs)

	require.NoError(t, f.orch.RegisterHandler(&funcHandler{
		name: "flaky",
		run: func(context.Context, *Request, *Accumulator) error {
			return fmt.Errorf("upstream hiccup")
		},
	}))

	res := f.orch.Orchestrate(context.Background(), &Request{PromptID: "p1", UserID: "u1"}, "degrading")
	assert.True(t, res.Success, "optional failures never flip success")
	assert.Equal(t, StatePartial, res.State)
	assert.Equal(t, 2, res.StagesExecuted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "flaky", res.Errors[0].Stage)

	require.NotNil(t, res.Result)
	assert.Contains(t, res.Result.Metadata.Warnings[len(res.Result.Metadata.Warnings)-1], "optional stage flaky failed")
}

func TestTotalTimeoutSkipsRemainingStages(t *testing.T) {
	configs := []pipeline.Config{{
		Name: "tight",
		Stages: []pipeline.Stage{
			{Name: "sluggish", Required: false, Timeout: time.Second},
			{Name: pipeline.StageAdaptation, Required: true, Timeout: 500 * time.Millisecond},
		},
		TotalTimeout: 20 * time.Millisecond,
		Fallback:     pipeline.FallbackStatic,
	}}
	f := newFixture(t, configs)

	require.NoError(t, f.orch.RegisterHandler(&funcHandler{
		name: "sluggish",
		run: func(context.Context, *Request, *Accumulator) error {
			time.Sleep(40 * time.Millisecond)
			return nil
		},
	}))

	res := f.orch.Orchestrate(context.Background(), &Request{PromptID: "p1", UserID: "u1"}, "tight")
	assert.False(t, res.Success)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 1, res.StagesExecuted, "skipped stages are not counted or failed")
	assert.Empty(t, res.Errors, "a skipped stage is not an error")
	require.NotNil(t, res.Result)
	assert.Equal(t, "Generic assistant prompt.", res.Result.AdaptedContent)
}

func TestUseCachedFallbackServesLastSuccess(t *testing.T) {
	configs := []pipeline.Config{
		{
			Name: "warm",
			Stages: []pipeline.Stage{
				{Name: pipeline.StageMemoryRetrieval, Required: false, Timeout: 300 * time.Millisecond},
				{Name: pipeline.StageAdaptation, Required: true, Timeout: 500 * time.Millisecond},
			},
			TotalTimeout: 2 * time.Second,
			Fallback:     pipeline.FallbackUseCached,
		},
		{
			Name: "broken",
			Stages: []pipeline.Stage{
				{Name: "boom", Required: true, Timeout: 100 * time.Millisecond},
			},
			TotalTimeout: time.Second,
			Fallback:     pipeline.FallbackUseCached,
		},
	}
	f := newFixture(t, configs)
	ctx := context.Background()

	require.NoError(t, f.orch.RegisterHandler(&funcHandler{
		name: "boom",
		run: func(context.Context, *Request, *Accumulator) error {
			return fmt.Errorf("handler exploded")
		},
	}))

	_, err := f.store.Save(ctx, &memory.Memory{
		UserID:          "u1",
		Type:            memory.TypePattern,
		Title:           "greeting",
		Content:         []byte(`{"style":"short"}`),
		RelevanceTags:   []string{"tone"},
		ImportanceScore: 0.9,
	})
	require.NoError(t, err)

	warm := f.orch.Orchestrate(ctx, &Request{PromptID: "p1", UserID: "u1"}, "warm")
	require.True(t, warm.Success)
	require.NotNil(t, warm.Result)

	broken := f.orch.Orchestrate(ctx, &Request{PromptID: "p1", UserID: "u1"}, "broken")
	assert.False(t, broken.Success)
	require.NotNil(t, broken.Result)
	assert.Equal(t, warm.Result.AdaptedContent, broken.Result.AdaptedContent)
	assert.Contains(t, broken.Result.Metadata.Warnings, "served cached adaptation")

	// Cache miss for another user degrades to static fallback.
	cold := f.orch.Orchestrate(ctx, &Request{PromptID: "p1", UserID: "u2"}, "broken")
	assert.False(t, cold.Success)
	require.NotNil(t, cold.Result)
	assert.Equal(t, "Generic assistant prompt.", cold.Result.AdaptedContent)

	f.store.FlushAccessUpdates()
}

func TestConcurrentGroupRunsBothStages(t *testing.T) {
	f := newFixture(t, pipeline.Defaults())
	ctx := context.Background()

	_, err := f.store.Save(ctx, &memory.Memory{
		UserID:          "u1",
		Type:            memory.TypeKnowledge,
		Title:           "domain",
		Content:         []byte(`{"field":"billing"}`),
		RelevanceTags:   []string{"tone"},
		ImportanceScore: 0.7,
	})
	require.NoError(t, err)

	res := f.orch.Orchestrate(ctx, &Request{PromptID: "p1", UserID: "u1"}, "default")
	require.True(t, res.Success)
	assert.Equal(t, 3, res.StagesExecuted)
	assert.Contains(t, res.Result.ContextUsed, "memory:knowledge")
	assert.Contains(t, res.Result.ContextUsed, adaptation.SourceExperiment)

	n, err := f.recorder.ExposureCount(ctx, "exp-default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.store.FlushAccessUpdates()
}

func TestRegisterHandlerDuplicate(t *testing.T) {
	f := newFixture(t, pipeline.Defaults())

	err := f.orch.RegisterHandler(&funcHandler{
		name: pipeline.StageAdaptation,
		run:  func(context.Context, *Request, *Accumulator) error { return nil },
	})
	assert.ErrorIs(t, err, ErrDuplicateHandler)
}

func TestSessionHistory(t *testing.T) {
	f := newFixture(t, pipeline.Defaults())
	ctx := context.Background()

	req := &Request{PromptID: "p1", UserID: "u1", SessionID: "s1"}
	f.orch.Orchestrate(ctx, req, "fast")
	f.orch.Orchestrate(ctx, req, "fast")

	entries := f.orch.SessionHistory("s1", 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "fast", entries[0].Pipeline)
	assert.True(t, entries[1].Timestamp.After(entries[0].Timestamp) || entries[1].Timestamp.Equal(entries[0].Timestamp))

	limited := f.orch.SessionHistory("s1", 1)
	require.Len(t, limited, 1)

	assert.Empty(t, f.orch.SessionHistory("unknown", 0))
}
