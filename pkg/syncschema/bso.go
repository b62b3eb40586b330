package syncschema

import (
	"regexp"
	"time"
)

// Limits enforced on every BSO, per the wire-level contract.
const (
	MaxBSOIDLength  = 64
	MaxPayloadBytes = 256 * 1024
	MinSortIndex    = -999999999
	MaxSortIndex    = 999999999

	// MaxTTLSeconds is the ceiling a caller may request for ttl; items
	// written without one get this value. Like every ttl it is an offset
	// added to the write time, so the expiry it yields lies many decades
	// out and reads as "never" to a sync client. (2,082,844,800 seconds
	// from the Unix epoch is 2036-01-02T00:00:00Z.)
	MaxTTLSeconds = 2082844800 - 1 // relative ttl offsets are clamped to this value
)

var bsoIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidID reports whether id is a legal BSO identifier.
func ValidID(id string) bool {
	return bsoIDPattern.MatchString(id)
}

// BSO is a single basic storage object. Payload is nil when a caller sent
// a metadata-only update (sortindex/ttl change without touching data).
type BSO struct {
	ID        string  `json:"id"`
	Payload   *string `json:"payload,omitempty"`
	SortIndex *int64  `json:"sortindex,omitempty"`
	Modified  int64   `json:"modified,omitempty"` // server ms, read-only on input
	TTL       *int64  `json:"ttl,omitempty"`       // seconds, relative at write time

	// Legacy fields, opaque, no referential semantics.
	ParentID      *string `json:"parentid,omitempty"`
	PredecessorID *string `json:"predecessorid,omitempty"`

	// PayloadSize is populated on read; ignored on write (derived from Payload).
	PayloadSize int `json:"-"`
}

// DefaultTTLAbsolute returns the default expiry (unix seconds) for a BSO
// written at serverNowMillis with no explicit ttl.
func DefaultTTLAbsolute(serverNowMillis int64) int64 {
	return serverNowMillis/1000 + MaxTTLSeconds
}

// ExpiresAt returns the absolute unix-seconds expiry of a BSO written at
// modifiedMillis with the given ttl (seconds).
func ExpiresAt(modifiedMillis int64, ttlSeconds int64) int64 {
	return modifiedMillis/1000 + ttlSeconds
}

// Expired reports whether a BSO with the given modified/ttl is invisible
// to reads performed at nowMillis.
func Expired(modifiedMillis, ttlSeconds, nowMillis int64) bool {
	return ExpiresAt(modifiedMillis, ttlSeconds) < nowMillis/1000
}

// NowMillis is the server-authoritative clock used throughout the core.
// Exists as a seam so tests can freeze time without mocking every call site.
var NowMillis = func() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
