// Package auth resolves API keys to user identities. Every tool call that
// touches per-user state passes through an Authenticator first; a missing or
// unknown key yields ErrAuthenticationRequired rather than a protocol error so
// callers can surface it as a regular failed result.
package auth
