// Package internal holds the private building blocks of goAuthSync.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: refresh coordination and the auto-refresh ticker
//   - metrics: lock-free counters and latency histograms
//   - subscribers: the auth-state callback registry and its broadcast relay
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAuthSync API.
//   - Be imported by any package outside the goAuthSync module.
package internal
