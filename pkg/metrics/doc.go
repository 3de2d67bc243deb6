// Package metrics defines the Prometheus instrumentation for the
// control plane: session population gauges refreshed by a background
// collector, API request counters and latency histograms, and outcome
// counters for chat routing and pre-termination backups. Metrics
// register against the default registry at package init and are served
// by Handler.
package metrics
