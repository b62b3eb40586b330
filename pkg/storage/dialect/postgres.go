package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Postgres is grounded on github.com/lib/pq, pulled into this domain from
// the retrieval pack's storj-storj go.mod (the closest real-world
// precedent in the pack for a Postgres-backed storage service).
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) BeginRead(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}

func (Postgres) BeginWrite(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}

// LockUserCollection uses SELECT ... FOR UPDATE / FOR SHARE, the native
// Postgres row-locking primitive (spec.md §4.1 locking discipline).
func (Postgres) LockUserCollection(ctx context.Context, tx *sql.Tx, userID int64, collectionID int, forUpdate bool) (int64, error) {
	lockClause := "FOR SHARE"
	if forUpdate {
		lockClause = "FOR UPDATE"
	}
	var lastModified int64
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT last_modified FROM user_collections WHERE userid = $1 AND collectionid = $2 %s`, lockClause),
		userID, collectionID,
	).Scan(&lastModified)
	switch {
	case err == sql.ErrNoRows:
		if !forUpdate {
			return 0, nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_collections (userid, collectionid, last_modified) VALUES ($1, $2, 0) ON CONFLICT DO NOTHING`,
			userID, collectionID,
		); err != nil {
			return 0, fmt.Errorf("postgres: seed user_collections: %w", err)
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("postgres: lock user_collections: %w", err)
	}
	return lastModified, nil
}

func (Postgres) UpsertBSO(ctx context.Context, tx *sql.Tx, table string, row BSORow) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (userid, collection, id, sortindex, modified, payload, payload_size, ttl, parentid, predecessorid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (userid, collection, id) DO UPDATE SET
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
		return fmt.Errorf("postgres: upsert bso: %w", err)
	}
	return nil
}

func (Postgres) Schema(bsoTableCount int) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			collectionid SERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_collections (
			userid BIGINT NOT NULL,
			collectionid INTEGER NOT NULL,
			last_modified BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (userid, collectionid)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_uploads (
			batch BIGINT PRIMARY KEY,
			userid BIGINT NOT NULL,
			collection INTEGER NOT NULL,
			created_at BIGINT NOT NULL
		)`,
	}
	for i := 0; i < bsoTableCount; i++ {
		table := BSOTableName(i)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				userid BIGINT NOT NULL,
				collection INTEGER NOT NULL,
				id TEXT NOT NULL,
				sortindex BIGINT,
				modified BIGINT NOT NULL,
				payload TEXT,
				payload_size INTEGER,
				ttl BIGINT NOT NULL,
				parentid TEXT,
				predecessorid TEXT,
				PRIMARY KEY (userid, collection, id)
			)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_modified_idx ON %s (userid, collection, modified)`, table, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ttl_idx ON %s (ttl)`, table, table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS batch_upload_items_%d (
				batch BIGINT NOT NULL,
				userid BIGINT NOT NULL,
				id TEXT NOT NULL,
				sortindex BIGINT,
				payload TEXT,
				payload_size INTEGER,
				ttl_offset BIGINT,
				PRIMARY KEY (batch, userid, id)
			)`, i),
		)
	}
	return stmts
}

// dollarize rewrites the portable "?" placeholder markers that
// pkg/storage's filter builder emits into Postgres's "$n" syntax.
func dollarize(sqlText string) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(sqlText); i++ {
		if sqlText[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(sqlText[i])
	}
	return b.String()
}

// DeleteItemsLimited falls back to SELECT-then-DELETE: Postgres, like
// SQLite, has no ORDER BY/LIMIT clause on DELETE.
func (Postgres) DeleteItemsLimited(ctx context.Context, tx *sql.Tx, table, whereSQL string, args []interface{}, orderBySQL string, limit int) ([]string, error) {
	whereSQL = dollarize(whereSQL)
	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s`, table, whereSQL)
	if orderBySQL != "" {
		query += " ORDER BY " + orderBySQL
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: select for delete: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan id for delete: %w", err)
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
	delArgs := append([]interface{}{}, args...)
	base := len(args)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", base+i+1)
		delArgs = append(delArgs, id)
	}
	delQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s AND id IN (%s)`, table, whereSQL, strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, delQuery, delArgs...); err != nil {
		return nil, fmt.Errorf("postgres: delete limited: %w", err)
	}
	return ids, nil
}
