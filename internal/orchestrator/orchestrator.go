package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/adaptd/internal/adaptation"
	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
)

// Config holds orchestrator tuning knobs.
type Config struct {
	// MaxConcurrentPerUser bounds in-flight orchestrations per user so a
	// request burst cannot overload the memory store.
	MaxConcurrentPerUser int64 `koanf:"max_concurrent_per_user"`

	// CacheSize bounds the result cache backing the use_cached fallback.
	CacheSize int `koanf:"cache_size"`

	// HistoryLimit bounds retained orchestrations per session.
	HistoryLimit int `koanf:"history_limit"`
}

// NewDefaultConfig returns orchestrator defaults.
func NewDefaultConfig() *Config {
	return &Config{
		MaxConcurrentPerUser: 8,
		CacheSize:            256,
		HistoryLimit:         50,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrentPerUser <= 0 {
		return fmt.Errorf("max_concurrent_per_user must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive")
	}
	return nil
}

// Orchestrator runs named pipelines and always returns a renderable result.
type Orchestrator struct {
	config   *Config
	registry *pipeline.Registry
	provider adaptation.Provider
	logger   *logging.Logger
	metrics  *Metrics

	mu       sync.RWMutex
	handlers map[string]Handler

	cache   *lru.Cache[string, *adaptation.Result]
	history *history

	semMu sync.Mutex
	sems  map[string]*semaphore.Weighted
}

// New creates an orchestrator. The provider is needed independently of the
// adaptation stage so fallback content stays reachable when that stage never
// ran.
func New(cfg *Config, registry *pipeline.Registry, provider adaptation.Provider, logger *logging.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if registry == nil {
		return nil, fmt.Errorf("pipeline registry is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("template provider is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cache, err := lru.New[string, *adaptation.Result](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	return &Orchestrator{
		config:   cfg,
		registry: registry,
		provider: provider,
		logger:   logger.Named("orchestrator"),
		metrics:  NewMetrics(logger),
		handlers: make(map[string]Handler),
		cache:    cache,
		history:  newHistory(cfg.HistoryLimit),
		sems:     make(map[string]*semaphore.Weighted),
	}, nil
}

// RegisterHandler registers a stage handler under its name.
func (o *Orchestrator) RegisterHandler(h Handler) error {
	if h == nil {
		return fmt.Errorf("handler is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.handlers[h.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, h.Name())
	}
	o.handlers[h.Name()] = h
	return nil
}

// SessionHistory returns up to limit recent orchestrations for a session,
// newest last.
func (o *Orchestrator) SessionHistory(sessionID string, limit int) []HistoryEntry {
	return o.history.Session(sessionID, limit)
}

// Orchestrate runs the named pipeline for one request. It never panics
// upward and never returns nil; failures come back as a populated result
// with Success false.
func (o *Orchestrator) Orchestrate(ctx context.Context, req *Request, pipelineName string) *Result {
	start := time.Now()
	res := &Result{Pipeline: pipelineName, State: StatePending}

	if req == nil {
		res.Errors = append(res.Errors, StageError{Stage: "request", Message: "request is required"})
		res.State = StateAborted
		return res
	}
	if err := req.Validate(); err != nil {
		res.Errors = append(res.Errors, StageError{Stage: "request", Message: err.Error()})
		res.State = StateAborted
		return res
	}

	cfg, err := o.registry.Get(pipelineName)
	if err != nil {
		res.Errors = append(res.Errors, StageError{Stage: "registry", Message: "unknown pipeline"})
		res.State = StateAborted
		o.logger.Warn(ctx, "unknown pipeline requested", zap.String("pipeline", pipelineName))
		return res
	}

	done := o.metrics.RunStarted(ctx)
	defer done()

	sem := o.userSemaphore(req.UserID)
	if err := sem.Acquire(ctx, 1); err != nil {
		res.Errors = append(res.Errors, StageError{Stage: "orchestrator", Message: err.Error()})
		res.State = StateAborted
		res.TotalTime = time.Since(start)
		return res
	}
	defer sem.Release(1)

	acc := NewAccumulator()
	res.State = StateRunning

	var requiredFailed, timedOut bool

batches:
	for _, batch := range stageBatches(cfg.Stages) {
		// Total-timeout check happens only at stage boundaries; stages
		// not scheduled past it are skipped, not failed.
		if cfg.TotalTimeout > 0 && time.Since(start) >= cfg.TotalTimeout {
			timedOut = true
			break
		}

		outcomes := o.runBatch(ctx, batch, req, acc)
		for i, st := range batch {
			res.StagesExecuted++
			stageErr := outcomes[i]
			if stageErr == nil {
				continue
			}

			res.Errors = append(res.Errors, StageError{Stage: st.Name, Message: stageErr.Error()})
			o.metrics.RecordStageError(ctx, cfg.Name, st.Name)
			o.logger.Warn(ctx, "stage failed",
				zap.String("pipeline", cfg.Name),
				zap.String("stage", st.Name),
				zap.Bool("required", st.Required),
				zap.Error(stageErr))

			if st.Required {
				requiredFailed = true
			} else {
				acc.AddWarning(fmt.Sprintf("optional stage %s failed: %v", st.Name, stageErr))
			}
		}
		if requiredFailed {
			break batches
		}
	}

	res.TotalTime = time.Since(start)
	adapted := acc.Adaptation()

	switch {
	case requiredFailed:
		res.Success = false
		res.State = StateAborted
		res.Result = o.applyFallback(ctx, cfg, req, acc)
	case timedOut:
		res.Success = false
		res.State = StateTimedOut
		if adapted != nil {
			res.Result = adapted
		} else {
			res.Result = o.applyFallback(ctx, cfg, req, acc)
		}
	default:
		res.Success = true
		if adapted == nil {
			acc.AddWarning("pipeline produced no adaptation output")
			adapted = o.applyFallback(ctx, cfg, req, acc)
		}
		res.Result = adapted
		if len(res.Errors) > 0 {
			res.State = StatePartial
		} else {
			res.State = StateCompleted
		}
	}

	if res.Result != nil {
		if v := acc.Variant(); v != "" && res.Result.ExperimentVariant == "" {
			res.Result.ExperimentVariant = v
		}
		if warnings := acc.Warnings(); len(warnings) > 0 {
			res.Result.Metadata.Warnings = append(res.Result.Metadata.Warnings, warnings...)
		}
	}

	if res.Success && res.Result != nil {
		o.cache.Add(cacheKey(req.UserID, req.PromptID), res.Result.Clone())
	}

	o.history.Record(req.SessionID, HistoryEntry{
		Pipeline:       cfg.Name,
		PromptID:       req.PromptID,
		Success:        res.Success,
		State:          res.State,
		StagesExecuted: res.StagesExecuted,
		TotalTime:      res.TotalTime,
		Timestamp:      time.Now().UTC(),
	})
	o.metrics.RecordRun(ctx, cfg.Name, res.State, res.TotalTime)
	o.logger.Info(ctx, "orchestration finished",
		zap.String("pipeline", cfg.Name),
		zap.String("state", string(res.State)),
		zap.Int("stages_executed", res.StagesExecuted),
		zap.Duration("total_time", res.TotalTime))

	return res
}

// runBatch executes one batch, concurrently when it holds more than one
// stage. Outcomes are positionally aligned with the batch.
func (o *Orchestrator) runBatch(ctx context.Context, batch []pipeline.Stage, req *Request, acc *Accumulator) []error {
	outcomes := make([]error, len(batch))
	if len(batch) == 1 {
		outcomes[0] = o.runStage(ctx, batch[0], req, acc)
		return outcomes
	}

	var g errgroup.Group
	for i, st := range batch {
		i, st := i, st
		g.Go(func() error {
			outcomes[i] = o.runStage(ctx, st, req, acc)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// runStage races the stage handler against its own timeout. An abandoned
// handler may still complete in the background; its accumulator write is
// harmless because assembly has not happened yet for required stages and
// late optional output is simply unused.
func (o *Orchestrator) runStage(ctx context.Context, st pipeline.Stage, req *Request, acc *Accumulator) error {
	o.mu.RLock()
	h, ok := o.handlers[st.Name]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandler, st.Name)
	}

	runCtx := ctx
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, st.Timeout)
		defer cancel()
	}

	errc := make(chan error, 1)
	go func() {
		errc <- h.Run(runCtx, req, acc)
	}()

	select {
	case err := <-errc:
		return err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return ErrStageTimeout
		}
		return runCtx.Err()
	}
}

// applyFallback produces a best-effort result per the pipeline's strategy.
func (o *Orchestrator) applyFallback(ctx context.Context, cfg pipeline.Config, req *Request, acc *Accumulator) *adaptation.Result {
	strategy := cfg.Fallback

	if strategy == pipeline.FallbackUseCached {
		if cached, ok := o.cache.Get(cacheKey(req.UserID, req.PromptID)); ok {
			out := cached.Clone()
			out.Metadata.Warnings = append(out.Metadata.Warnings, "served cached adaptation")
			return out
		}
		strategy = pipeline.FallbackStatic
	}

	out := &adaptation.Result{
		ContextUsed:       []string{},
		AdaptationApplied: []string{},
		Personalizations:  map[string]string{},
	}

	tpl, err := o.provider.Template(ctx, req.PromptID)
	if err != nil || tpl == nil {
		o.logger.Warn(ctx, "fallback template unavailable",
			zap.String("prompt_id", req.PromptID), zap.Error(err))
		out.Metadata.Warnings = []string{"fallback template unavailable"}
		return out
	}

	switch strategy {
	case pipeline.FallbackSkipAdaptation:
		out.AdaptedContent = tpl.Content
		out.Metadata.Warnings = []string{"adaptation skipped"}
	default:
		content := tpl.FallbackContent
		if content == "" {
			content = tpl.Content
		}
		out.AdaptedContent = content
		out.Metadata.Warnings = []string{"served static fallback content"}
	}
	return out
}

func (o *Orchestrator) userSemaphore(userID string) *semaphore.Weighted {
	o.semMu.Lock()
	defer o.semMu.Unlock()
	s, ok := o.sems[userID]
	if !ok {
		s = semaphore.NewWeighted(o.config.MaxConcurrentPerUser)
		o.sems[userID] = s
	}
	return s
}

func cacheKey(userID, promptID string) string {
	return userID + "|" + promptID
}

func stageBatches(stages []pipeline.Stage) [][]pipeline.Stage {
	var out [][]pipeline.Stage
	for i := 0; i < len(stages); {
		st := stages[i]
		if st.Group == 0 {
			out = append(out, stages[i:i+1])
			i++
			continue
		}
		j := i + 1
		for j < len(stages) && stages[j].Group == st.Group {
			j++
		}
		out = append(out, stages[i:j])
		i = j
	}
	return out
}
