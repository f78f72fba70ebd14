// Package prometheus provides Prometheus collectors for refreshguard metrics.
//
// [NewPrometheusExporter] accepts a [refreshguard.Engine] and exposes an [http.Handler]
// that renders all refreshguard counters and histograms in Prometheus text exposition
// format. Counter names are prefixed refreshguard_*_total; the single histogram is
// refreshguard_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
