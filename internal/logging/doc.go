// Package logging provides structured logging for adaptd built on Zap.
//
// The Logger wraps zap.Logger with context-aware methods that automatically
// attach correlation fields (request ID, user ID, session ID) extracted from
// the request context. Output is JSON by default, console for local
// development.
package logging
