// Package nodestatus is the producer side of the status:<host> memcache
// key pkg/dispatcher's node-status check (the consumer side) reads.
// An operator or a health-check sidecar calls Publisher.MarkDown /
// MarkDraining / MarkUnhealthy / MarkBackoff / Clear to shed or throttle
// traffic to a node without restarting it, per spec.md §4.2/§4.4/§6.
package nodestatus
