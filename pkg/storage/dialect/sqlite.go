package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLite is the reference dialect: used by the in-repo quickstart and by
// every package-level test in pkg/storage. Grounded on the
// mozilla-services/go-syncstorage port, which is itself database/sql
// over github.com/mattn/go-sqlite3 against the same table shape.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

// BeginRead opens a DEFERRED transaction: SQLite acquires no lock until
// the first statement executes, which is sufficient for a reader that
// only needs to observe a consistent snapshot.
func (SQLite) BeginRead(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}

// BeginWrite opens an EXCLUSIVE transaction via the driver's serializable
// isolation mapping, so the write lock is taken immediately rather than
// upgraded lazily — this is what makes the write-then-check-precondition
// sequence in pkg/storage's write paths atomic on SQLite.
func (SQLite) BeginWrite(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

func (SQLite) LockUserCollection(ctx context.Context, tx *sql.Tx, userID int64, collectionID int, forUpdate bool) (int64, error) {
	var lastModified int64
	err := tx.QueryRowContext(ctx,
		`SELECT last_modified FROM user_collections WHERE userid = ? AND collectionid = ?`,
		userID, collectionID,
	).Scan(&lastModified)
	switch {
	case err == sql.ErrNoRows:
		if !forUpdate {
			return 0, nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_collections (userid, collectionid, last_modified) VALUES (?, ?, 0)`,
			userID, collectionID,
		); err != nil {
			return 0, fmt.Errorf("sqlite: seed user_collections: %w", err)
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("sqlite: lock user_collections: %w", err)
	}
	return lastModified, nil
}

func (SQLite) UpsertBSO(ctx context.Context, tx *sql.Tx, table string, row BSORow) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (userid, collection, id, sortindex, modified, payload, payload_size, ttl, parentid, predecessorid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(userid, collection, id) DO UPDATE SET
			sortindex = COALESCE(excluded.sortindex, %s.sortindex),
			modified = excluded.modified,
			payload = COALESCE(excluded.payload, %s.payload),
			payload_size = COALESCE(excluded.payload_size, %s.payload_size),
			ttl = COALESCE(excluded.ttl, %s.ttl),
			parentid = COALESCE(excluded.parentid, %s.parentid),
			predecessorid = COALESCE(excluded.predecessorid, %s.predecessorid)
	`, table, table, table, table, table, table, table),
		row.UserID, row.Collection, row.ID, row.SortIndex, row.Modified, row.Payload, row.PayloadSize, row.TTL,
		row.ParentID, row.PredecessorID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert bso: %w", err)
	}
	return nil
}

func (SQLite) Schema(bsoTableCount int) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			collectionid INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_collections (
			userid INTEGER NOT NULL,
			collectionid INTEGER NOT NULL,
			last_modified INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (userid, collectionid)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_uploads (
			batch INTEGER PRIMARY KEY,
			userid INTEGER NOT NULL,
			collection INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for i := 0; i < bsoTableCount; i++ {
		table := BSOTableName(i)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				userid INTEGER NOT NULL,
				collection INTEGER NOT NULL,
				id TEXT NOT NULL,
				sortindex INTEGER,
				modified INTEGER NOT NULL,
				payload TEXT,
				payload_size INTEGER,
				ttl INTEGER NOT NULL,
				parentid TEXT,
				predecessorid TEXT,
				PRIMARY KEY (userid, collection, id)
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_modified_idx ON %s (userid, collection, modified)`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ttl_idx ON %s (ttl)`, table, table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS batch_upload_items_%d (
				batch INTEGER NOT NULL,
				userid INTEGER NOT NULL,
				id TEXT NOT NULL,
				sortindex INTEGER,
				payload TEXT,
				payload_size INTEGER,
				ttl_offset INTEGER,
				PRIMARY KEY (batch, userid, id)
			)`, i),
		)
	}
	return stmts
}

// DeleteItemsLimited falls back to SELECT-then-DELETE: SQLite's DELETE
// grammar has no ORDER BY/LIMIT clause (spec.md §4.1).
func (SQLite) DeleteItemsLimited(ctx context.Context, tx *sql.Tx, table, whereSQL string, args []interface{}, orderBySQL string, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s`, table, whereSQL)
	if orderBySQL != "" {
		query += " ORDER BY " + orderBySQL
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select for delete: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan id for delete: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return ids, nil
	}

	placeholders := make([]string, len(ids))
	delArgs := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		delArgs = append(delArgs, id)
	}
	delQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s AND id IN (%s)`, table, whereSQL, strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, delQuery, append(append([]interface{}{}, args...), delArgs...)...); err != nil {
		return nil, fmt.Errorf("sqlite: delete limited: %w", err)
	}
	return ids, nil
}
