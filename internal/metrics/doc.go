// Package metrics records Prometheus metrics for client sessions, requests and
// storage operations. Metrics are registered with the default registry and
// exposed by the server on /metrics when MONEYPILOT_METRICS is enabled.
package metrics
