// Package metrics defines Prometheus metrics for device code flows, covering
// device code requests, token polls and the outcome of whole attempts.
package metrics
