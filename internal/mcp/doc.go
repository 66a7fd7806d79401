// Package mcp exposes adaptd over the Model Context Protocol on stdio.
//
// Tools call the internal packages directly. Every tool that touches
// per-user state authenticates the caller's API key first; a missing or
// unknown key comes back as a regular failed result, not a protocol error,
// so clients always receive something renderable.
package mcp
