// Package tracking records prompt usage and feedback and aggregates them into
// performance reports and prompt-version A/B test results.
//
// Usage records capture the per-invocation signals (model, tokens, latency);
// feedback attaches a 1..5 rating after the fact. A/B tests compare two
// concrete prompt versions by a chosen metric over those signals.
package tracking
