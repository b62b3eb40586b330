// Package health provides background liveness checks for syncstore's
// dependencies: the SQL backend and, when configured, the memcache
// cache tier. A Monitor runs a Checker on an interval and applies
// hysteresis (Config.Retries consecutive failures before flipping
// Status.Healthy) before publishing the result to pkg/metrics, which
// backs the /healthz and /readyz HTTP handlers.
package health
