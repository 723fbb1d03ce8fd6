// Package session models the persisted authentication session and the store
// that reads and writes it through a [storage.Adapter].
//
// # Encoding
//
// A session is stored as one JSON document under the configured storage key.
// The one-shot PKCE verifier lives beside it under key + "-code-verifier".
//
// # Storage-origin user data
//
// When the adapter is server-side, the user attached to a session read back
// from storage cannot be trusted the way a freshly fetched one can. Every
// [Snapshot] carries a [UserWarning] state, and the first read of its user
// logs a single warning per [Store].
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT refresh
// tokens, take locks, or notify subscribers; callers hold the lock around
// every write.
//
// # What this package must NOT do
//
//   - Import goAuthSync, lock, or internal/flows (no upward imports).
//   - Mutate a [Session] after handing it out.
package session
