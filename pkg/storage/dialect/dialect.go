// Package dialect isolates the SQL differences between backends behind a
// narrow interface, per spec.md §9's design note: the storage engine
// never inlines a dialect-specific string outside this package.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect supplies the handful of operations that differ across SQL
// engines: lock acquisition, upsert, and limited deletes. Everything else
// the storage engine needs is plain, portable SQL built in pkg/storage.
type Dialect interface {
	// Name identifies the dialect for logging/metrics.
	Name() string

	// Placeholder returns the bind-parameter marker for the nth
	// (1-indexed) argument of a query: "?" for MySQL/SQLite, "$1" etc
	// for Postgres.
	Placeholder(n int) string

	// BeginRead opens a transaction suitable for a read that must
	// serialize against a concurrent writer of the same row(s) but not
	// against other readers.
	BeginRead(ctx context.Context, db *sql.DB) (*sql.Tx, error)

	// BeginWrite opens a transaction suitable for a write that must
	// serialize against both readers and writers of the same row(s).
	BeginWrite(ctx context.Context, db *sql.DB) (*sql.Tx, error)

	// LockUserCollection takes the row lock on user_collections for
	// (userid, collectionid) within tx, creating the row with
	// last_modified=0 if it does not yet exist. forUpdate selects a
	// write lock (FOR UPDATE / BEGIN EXCLUSIVE semantics already
	// established by BeginWrite) vs a read lock (FOR SHARE).
	LockUserCollection(ctx context.Context, tx *sql.Tx, userID int64, collectionID int, forUpdate bool) (lastModified int64, err error)

	// UpsertBSO inserts or updates a single bso row within tx.
	UpsertBSO(ctx context.Context, tx *sql.Tx, table string, row BSORow) error

	// DeleteItemsLimited deletes rows matching whereSQL/args from table,
	// applying orderBySQL and limit. Dialects that cannot express
	// ORDER BY + LIMIT in a DELETE (SQLite, Postgres) fall back to a
	// SELECT-then-DELETE two-step internally; dialects that can (MySQL)
	// select the ids and then issue one limited DELETE. Returns the ids
	// actually deleted.
	DeleteItemsLimited(ctx context.Context, tx *sql.Tx, table, whereSQL string, args []interface{}, orderBySQL string, limit int) ([]string, error)

	// Schema returns the DDL statements needed to create the core
	// tables (collections, user_collections, a bso table per shard,
	// batch staging tables) for BSOTableCount shards. Run by
	// storage.Migrate, which the syncstore-migrate command calls.
	Schema(bsoTableCount int) []string
}

// BSORow is the dialect-agnostic representation of one bso row for an
// upsert. Nil fields mean "leave unchanged on update, default on insert".
type BSORow struct {
	UserID        int64
	Collection    int
	ID            string
	SortIndex     *int64
	Modified      int64
	Payload       *string
	PayloadSize   *int
	TTL           *int64 // absolute expiry, unix seconds
	ParentID      *string
	PredecessorID *string
}

// BSOTableName returns the name of the shard table holding rows for
// hash(userid) mod n == shard. With n == 1 sharding is disabled and every
// user lands in "bso0".
func BSOTableName(shard int) string {
	return fmt.Sprintf("bso%d", shard)
}

// Shard returns the shard index for userID given n total shards.
func Shard(userID int64, n int) int {
	if n <= 1 {
		return 0
	}
	h := userID
	if h < 0 {
		h = -h
	}
	return int(h % int64(n))
}
