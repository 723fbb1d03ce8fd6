// Package prometheus renders client metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] wraps one or more [goAuthSync.Client] values and
// exposes an [http.Handler]. Each client's series carry storage_key and
// client_instance labels. Counters are named goauth_*_total; the single
// histogram is goauth_lock_wait_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate client state.
package prometheus
