// Package storage owns the authoritative SQL-backed persistence for the
// sync core: collection-id assignment, per-user/per-collection
// last-modified tracking, BSO CRUD with filtering/sorting, TTL purge,
// quota accounting, and the batch-upload workflow.
//
// Every mutating operation runs inside a single database/sql transaction
// that locks the (userid, collectionid) row in user_collections before
// touching any bso row, so two concurrent writers to the same collection
// serialize on that lock rather than racing on last_modified. Dialect
// differences (lock clause, upsert syntax, limited deletes) live behind
// the storage/dialect package; nothing in this package names a specific
// SQL engine outside of picking a Dialect implementation at startup.
//
// SQLStore satisfies the Store interface directly. pkg/cache wraps a
// Store with a memcache-backed overlay for a handful of hot collections;
// callers above both only ever see Store.
package storage
