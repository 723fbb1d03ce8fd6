// Package broadcast provides the named, fire-and-forget publish/subscribe bus that
// independent contexts use to coordinate without a central server.
//
// # Semantics
//
// A [Channel] is opened by name through an [Opener]. Messages posted on a channel are
// delivered to every other channel opened with the same name, never back to the
// poster. Delivery is asynchronous and ordered per receiving channel; a post never
// waits for handlers to run.
//
// Two openers ship with the package: [Hub] connects channels inside one process
// (goroutines, tests, embedded workers) and [Redis] connects processes through Redis
// Pub/Sub.
//
// # What this package must NOT do
//
//   - Interpret message kinds or payloads (the lock and subscriber bus own those).
//   - Guarantee delivery. A channel that is not yet subscribed misses messages.
package broadcast
