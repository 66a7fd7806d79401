// Package orchestrator executes named pipelines over a user's context.
//
// A pipeline is an ordered list of stages (memory retrieval, experiment
// assignment, adaptation) with per-stage timeouts, a total time budget, and a
// fallback strategy. The orchestrator runs stages sequentially or in declared
// concurrent groups, absorbs optional-stage failures, aborts on required-stage
// failures, and always hands the caller a renderable result. Exceeding a
// timeout abandons waiting on a stage but does not preempt it; late side
// effects are allowed to land.
package orchestrator
