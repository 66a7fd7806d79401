// Package adaptation turns static prompt templates into personalized content
// using retrieved memories, caller preferences, and experiment variants.
//
// The engine selects examples from the template's pool using the declared
// strategy, applies adaptation rules whose activation conditions are met by
// the available context, and falls back to the template's fallback content
// verbatim when required context cannot be resolved. ContextUsed reflects
// only sources that were actually read, never sources that were merely
// requested.
package adaptation
