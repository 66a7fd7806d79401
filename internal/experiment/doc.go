// Package experiment provides deterministic variant assignment and exposure
// recording for personalization experiments.
//
// Assignment is a pure function of (userID, experimentID), so repeated calls
// within an experiment's lifetime always return the same variant. Exposure is
// recorded exactly once per pair: repeat assignments never double-count.
//
// This mechanism is independent of prompt-version A/B tests (package
// tracking), which compare two concrete prompt versions by a chosen metric.
package experiment
