package dialect

import (
	"context"
	"database/sql"
	"fmt"
)

// MySQL is grounded on github.com/go-sql-driver/mysql, the standard
// driver choice across the Go ecosystem for this engine; no example repo
// in the retrieval pack carries a MySQL driver, so this one is named
// directly rather than grounded on a pack precedent (see DESIGN.md).
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) BeginRead(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}

func (MySQL) BeginWrite(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	return db.BeginTx(ctx, nil)
}

func (MySQL) LockUserCollection(ctx context.Context, tx *sql.Tx, userID int64, collectionID int, forUpdate bool) (int64, error) {
	lockClause := "LOCK IN SHARE MODE"
	if forUpdate {
		lockClause = "FOR UPDATE"
	}
	var lastModified int64
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT last_modified FROM user_collections WHERE userid = ? AND collectionid = ? %s`, lockClause),
		userID, collectionID,
	).Scan(&lastModified)
	switch {
	case err == sql.ErrNoRows:
		if !forUpdate {
			return 0, nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT IGNORE INTO user_collections (userid, collectionid, last_modified) VALUES (?, ?, 0)`,
			userID, collectionID,
		); err != nil {
			return 0, fmt.Errorf("mysql: seed user_collections: %w", err)
		}
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("mysql: lock user_collections: %w", err)
	}
	return lastModified, nil
}

func (MySQL) UpsertBSO(ctx context.Context, tx *sql.Tx, table string, row BSORow) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (userid, collection, id, sortindex, modified, payload, payload_size, ttl, parentid, predecessorid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			sortindex = COALESCE(VALUES(sortindex), sortindex),
			modified = VALUES(modified),
			payload = COALESCE(VALUES(payload), payload),
			payload_size = COALESCE(VALUES(payload_size), payload_size),
			ttl = COALESCE(VALUES(ttl), ttl),
			parentid = COALESCE(VALUES(parentid), parentid),
			predecessorid = COALESCE(VALUES(predecessorid), predecessorid)
	`, table),
		row.UserID, row.Collection, row.ID, row.SortIndex, row.Modified, row.Payload, row.PayloadSize, row.TTL,
		row.ParentID, row.PredecessorID,
	)
	if err != nil {
		return fmt.Errorf("mysql: upsert bso: %w", err)
	}
	return nil
}

func (MySQL) Schema(bsoTableCount int) []string {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			collectionid INTEGER AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) UNIQUE NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS user_collections (
			userid BIGINT NOT NULL,
			collectionid INTEGER NOT NULL,
			last_modified BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (userid, collectionid)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS batch_uploads (
			batch BIGINT PRIMARY KEY,
			userid BIGINT NOT NULL,
			collection INTEGER NOT NULL,
			created_at BIGINT NOT NULL
		) ENGINE=InnoDB`,
	}
	for i := 0; i < bsoTableCount; i++ {
		table := BSOTableName(i)
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				userid BIGINT NOT NULL,
				collection INTEGER NOT NULL,
				id VARCHAR(64) NOT NULL,
				sortindex BIGINT,
				modified BIGINT NOT NULL,
				payload MEDIUMTEXT,
				payload_size INTEGER,
				ttl BIGINT NOT NULL,
				parentid VARCHAR(64),
				predecessorid VARCHAR(64),
				PRIMARY KEY (userid, collection, id),
				KEY %s_modified_idx (userid, collection, modified),
				KEY %s_ttl_idx (ttl)
			) ENGINE=InnoDB`, table, table, table),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS batch_upload_items_%d (
				batch BIGINT NOT NULL,
				userid BIGINT NOT NULL,
				id VARCHAR(64) NOT NULL,
				sortindex BIGINT,
				payload MEDIUMTEXT,
				payload_size INTEGER,
				ttl_offset BIGINT,
				PRIMARY KEY (batch, userid, id)
			) ENGINE=InnoDB`, i),
		)
	}
	return stmts
}

// DeleteItemsLimited selects the ids it is about to delete, then removes
// them with a single DELETE ... ORDER BY ... LIMIT: MySQL is the one
// dialect of the three that accepts ORDER BY + LIMIT directly on DELETE.
func (MySQL) DeleteItemsLimited(ctx context.Context, tx *sql.Tx, table, whereSQL string, args []interface{}, orderBySQL string, limit int) ([]string, error) {
	selectQuery := fmt.Sprintf(`SELECT id FROM %s WHERE %s`, table, whereSQL)
	if orderBySQL != "" {
		selectQuery += " ORDER BY " + orderBySQL
	}
	if limit > 0 {
		selectQuery += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql: select for delete: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("mysql: scan id for delete: %w", err)
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

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s`, table, whereSQL)
	if orderBySQL != "" {
		deleteQuery += " ORDER BY " + orderBySQL
	}
	if limit > 0 {
		deleteQuery += fmt.Sprintf(" LIMIT %d", limit)
	}
	if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
		return nil, fmt.Errorf("mysql: delete limited: %w", err)
	}
	return ids, nil
}
