// Package lock implements named mutual exclusion between contexts that share
// nothing but a broadcast bus.
//
// # Protocol
//
// [Distributed] runs a three-state claim protocol per participant over a
// [broadcast.Channel] named after the lock:
//
//   - acquiring: broadcast a claim, then wait one window. Silence means the lock is
//     acquired; any competing message moves the participant to backoff.
//   - backoff: sleep the window plus jitter that grows exponentially per attempt.
//     A holder-present message extends the sleep instead of restarting the claim.
//   - acquired: answer every claim with holder-present, run the critical section,
//     then hand a direct grant to the first claimant seen while holding.
//
// Exclusion is best-effort: the protocol is not linearizable and two holders can
// exist under partition. A second holder is logged, never fatal.
//
// [Process] is the degenerate variant for contexts without a bus: the process is
// the only participant and exclusion reduces to a per-name mutex.
//
// [LocalQueue] sits in front of any [Locker] so that callers inside one context
// queue behind the current holder instead of competing with themselves.
//
// # What this package must NOT do
//
//   - Touch session storage. Lock failures are advisory and never purge state.
//   - Preempt a running critical section. Timeouts apply to acquisition only.
package lock
