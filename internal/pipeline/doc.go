// Package pipeline defines named, versionable stage configurations and the
// registry that resolves them at request time.
//
// Configs are immutable once loaded. Reconfiguration swaps in a complete new
// config set atomically, so a request in flight never observes a half-updated
// pipeline.
package pipeline
