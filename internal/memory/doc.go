// Package memory implements the context memory store: persistent, queryable,
// user-scoped records used to personalize future interactions.
//
// Records carry an importance score in [0,1] used for retrieval ranking and a
// set of relevance tags used for overlap filtering. Reads by id or title
// schedule a non-blocking access-stat update executed as a single atomic
// UPDATE, so the counter cannot lose increments under concurrent reads and
// retrieval latency is never coupled to write latency.
//
// Read paths degrade gracefully: lookups return nil on not-found and queries
// return an empty slice when the backing store is unreachable. Write failures
// propagate, since silent data loss on writes is unacceptable.
package memory
