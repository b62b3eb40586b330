package dispatcher

import (
	"strconv"
	"strings"
)

// statusReader is the narrow slice of *cache.Client's method set the
// node-status check needs, so tests can substitute a fake without a real
// memcache connection.
type statusReader interface {
	Get(key string) ([]byte, bool, error)
}

// nodeStatus is the decoded form of a status:<host> memcache value.
type nodeStatus struct {
	kind          string // "ok", "down", "draining", "unhealthy", "backoff"
	backoffSecs   int    // only meaningful when kind == "backoff"
}

const (
	statusDown      = "down"
	statusDraining  = "draining"
	statusUnhealthy = "unhealthy"
	statusBackoff   = "backoff"
	statusOK        = "ok"
)

// statusKey builds the status:<host> memcache key spec.md §6 reserves for
// node-status signaling.
func statusKey(host string) string {
	return "status:" + host
}

// readNodeStatus fetches and decodes the status for host. A cache miss or
// a disabled/nil client reports the ok status (proceed normally); per
// spec.md §4.2's fault-tolerance rule, a memcache error also degrades to
// ok rather than blocking every request on a node-status outage.
func readNodeStatus(c statusReader, host string) nodeStatus {
	if c == nil {
		return nodeStatus{kind: statusOK}
	}
	value, hit, err := c.Get(statusKey(host))
	if err != nil || !hit {
		return nodeStatus{kind: statusOK}
	}
	raw := string(value)
	if raw == statusDown || raw == statusDraining || raw == statusUnhealthy {
		return nodeStatus{kind: raw}
	}
	if raw == statusBackoff {
		return nodeStatus{kind: statusBackoff}
	}
	if strings.HasPrefix(raw, statusBackoff+":") {
		secs, err := strconv.Atoi(strings.TrimPrefix(raw, statusBackoff+":"))
		if err != nil {
			return nodeStatus{kind: statusOK}
		}
		return nodeStatus{kind: statusBackoff, backoffSecs: secs}
	}
	return nodeStatus{kind: statusOK}
}

// reasonFor returns the human-readable 503 reason for a blocking status.
func reasonFor(kind string) string {
	switch kind {
	case statusDown:
		return "database marked as down"
	case statusDraining:
		return "node reassignment"
	case statusUnhealthy:
		return "database is not healthy"
	default:
		return ""
	}
}
