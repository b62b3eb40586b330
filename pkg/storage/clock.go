package storage

import "github.com/cuemby/syncstore/pkg/syncschema"

// nextTimestamp enforces the monotonic-per-collection invariant of
// spec.md §4.1: the new last_modified must be strictly greater than
// prior, even if the wall clock hasn't advanced since the last write.
func nextTimestamp(prior int64) int64 {
	now := syncschema.NowMillis()
	if now <= prior {
		return prior + 1
	}
	return now
}
