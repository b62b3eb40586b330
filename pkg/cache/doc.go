// Package cache wraps a storage.Store with a memcache-backed overlay for
// the small set of hot collections: meta/global (written rarely, read on
// every sync, write-through to both cache and SQL) and tabs (ephemeral,
// cache is the sole source of truth — SQL never sees a tabs row). Every
// other collection passes straight through to the wrapped Store
// untouched. Overlay satisfies storage.Store itself, so callers above it
// never know whether they're talking to the cache or straight to SQL.
package cache
