// Package dispatcher implements the request tween chain of spec.md §4.4:
// reject HEAD, stamp the server time, consult the per-node status key to
// decide whether to shed load, default the Accept header, dispatch into
// pkg/controller, and finally annotate the response with X-Timestamp and
// (on a 503) a fuzzed Retry-After. Authentication (pkg/auth) runs ahead
// of this chain — by the time a request reaches Dispatch, its uid is
// already attached to the request context.
package dispatcher
