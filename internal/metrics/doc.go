// Package metrics defines the Prometheus metrics of the fact-check service.
// All recording methods are safe to call on a nil *Metrics, which disables them.
package metrics
