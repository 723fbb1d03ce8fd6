// Package otel publishes client metrics through OpenTelemetry.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter. The
// lock-wait histogram becomes a cumulative "_bucket" gauge with one series per
// "le" attribute plus a "_count" counter. A single callback reads
// [goAuthSync.Client.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
