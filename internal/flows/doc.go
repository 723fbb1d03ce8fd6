// Package flows contains the session-lifecycle orchestrators behind the
// Client: the refresh coordinator and the auto-refresh scheduler.
//
// Each flow accepts a typed dependency struct. Storage, notification and the
// network call are injected as functions so the flows can be tested without a
// server and without the root package.
//
// # Architecture boundaries
//
// Flows do NOT acquire the cross-context lock around mutations they did not
// start; the caller holds it. The one exception is the auto-refresh tick,
// which takes the lock itself through its injected Acquire.
//
// # What this package must NOT do
//
//   - Import goAuthSync (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
