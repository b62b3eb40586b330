// Package metrics provides Prometheus metrics for the sync storage service:
// request counts/durations by dispatcher method, storage-operation duration
// and error-kind counters, quota rejections, TTL/batch sweep counts, cache
// overlay hit/miss/error counters, a node-status gauge, and a counter of
// the dispatcher's backoff responses.
//
// All metrics are registered at package init against the default Prometheus
// registry and exposed via Handler() for a /metrics scrape endpoint. Timer
// is a small helper for observing operation duration into a histogram.
package metrics
