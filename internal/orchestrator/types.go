package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/adaptd/internal/adaptation"
	"github.com/fyrsmithlabs/adaptd/internal/experiment"
	"github.com/fyrsmithlabs/adaptd/internal/memory"
)

// Errors for request validation and handler registration.
var (
	ErrEmptyPromptID    = errors.New("prompt ID cannot be empty")
	ErrEmptyUserID      = errors.New("user ID cannot be empty")
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrUnknownHandler   = errors.New("no handler registered for stage")
	ErrStageTimeout     = errors.New("timeout")
)

// State is the terminal (or pre-run) state of one orchestration.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StatePartial   State = "PARTIAL"
	StateAborted   State = "ABORTED"
	StateTimedOut  State = "TIMED_OUT"
)

// Request is one orchestration request.
type Request struct {
	PromptID     string            `json:"prompt_id"`
	UserID       string            `json:"user_id"`
	CurrentInput string            `json:"current_input"`
	SessionID    string            `json:"session_id,omitempty"`

	// RequiredContext lists context-source identifiers the caller insists
	// on; adaptation falls back when any of them cannot be read.
	RequiredContext []string `json:"required_context,omitempty"`

	Preferences map[string]string `json:"preferences,omitempty"`
}

// Validate checks required request fields.
func (r *Request) Validate() error {
	if r.PromptID == "" {
		return ErrEmptyPromptID
	}
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	return nil
}

// StageError records one stage's failure.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"error"`
}

// Result is what every orchestration returns, success or not.
type Result struct {
	Success bool `json:"success"`

	// Result is the adaptation output, full on success and fallback or
	// partial otherwise. Nil only when no fallback could be produced.
	Result *adaptation.Result `json:"result,omitempty"`

	// Errors lists stage failures in execution order.
	Errors []StageError `json:"errors,omitempty"`

	// StagesExecuted counts stages that ran to completion, success or
	// recorded failure. Skipped stages are excluded.
	StagesExecuted int `json:"stages_executed"`

	TotalTime time.Duration `json:"total_time"`
	Pipeline  string        `json:"pipeline"`
	State     State         `json:"state"`
}

// Accumulator collects stage outputs during one orchestration. Stages in a
// concurrent group write to disjoint slots, so a single mutex suffices.
type Accumulator struct {
	mu         sync.Mutex
	memories   []*memory.Memory
	assignment *experiment.Assignment
	adaptation *adaptation.Result
	warnings   []string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// SetMemories stores the retrieved memories.
func (a *Accumulator) SetMemories(ms []*memory.Memory) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memories = ms
}

// Memories returns the retrieved memories, nil if retrieval never ran.
func (a *Accumulator) Memories() []*memory.Memory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memories
}

// SetAssignment stores the experiment assignment.
func (a *Accumulator) SetAssignment(as *experiment.Assignment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assignment = as
}

// Assignment returns the experiment assignment, nil if unassigned.
func (a *Accumulator) Assignment() *experiment.Assignment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assignment
}

// Variant returns the assigned variant or "".
func (a *Accumulator) Variant() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.assignment == nil {
		return ""
	}
	return a.assignment.Variant
}

// SetAdaptation stores the adaptation output.
func (a *Accumulator) SetAdaptation(r *adaptation.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adaptation = r
}

// Adaptation returns the adaptation output, nil if the stage never ran.
func (a *Accumulator) Adaptation() *adaptation.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adaptation
}

// AddWarning records a degradation note surfaced in result metadata.
func (a *Accumulator) AddWarning(w string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warnings = append(a.warnings, w)
}

// Warnings returns accumulated degradation notes.
func (a *Accumulator) Warnings() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.warnings...)
}
