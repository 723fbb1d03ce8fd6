// Package goAuthSync keeps one authoritative auth session across every
// context (goroutine group, process, host) that shares a storage key.
//
// A [Client] is built with [New] and [Builder.Build]. It serializes every
// session mutation behind a lock negotiated over a broadcast channel, issues
// at most one refresh-token call at a time, refreshes proactively before
// expiry, and fans session events out to local subscribers and to the other
// contexts on the same key.
//
// # Architecture boundaries
//
// goAuthSync is the public surface: [Client], [Builder], [Config], the error
// taxonomy and aliases for session, audit and metric types. The lock
// protocol lives in lock, transports in broadcast and storage, the session
// record in session. Refresh and auto-refresh orchestration, subscriber
// fan-out, audit dispatch and metric storage live under internal/.
//
// # What this package must NOT do
//
//   - Touch the storage slot outside the session lock, except the single
//     unguarded read made by initialization to decide whether recovery is
//     needed.
//   - Purge session state because a lock acquisition failed.
//   - Import any sub-package that re-imports goAuthSync.
package goAuthSync
