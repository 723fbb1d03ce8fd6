// Package audit dispatches session lifecycle events (sign-in, refresh,
// sign-out, user update) to a caller-supplied sink off the hot path.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured record with timestamp, type, user, storage key and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the client does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goAuthSync or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
