package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/syncstore/pkg/storage/dialect"
	"github.com/cuemby/syncstore/pkg/syncschema"
)

// GetItems implements get_items: filtered, sorted, paged read of a
// collection. Reads take no lock; they run against whatever the
// database's default read-committed (or equivalent) isolation gives them,
// since spec.md only requires read-your-writes within a single request
// and cross-collection interleaving is explicitly unguaranteed.
func (s *SQLStore) GetItems(ctx context.Context, uid int64, collection string, q Query) (BSOList, error) {
	collectionID, ok := s.names.lookup(collection)
	if !ok {
		var err error
		collectionID, err = s.lookupExistingCollectionID(ctx, collection)
		if err != nil {
			if err == sql.ErrNoRows {
				return BSOList{}, nil
			}
			return nil, Wrap(err, "get items")
		}
	}

	table := s.bsoTable(uid)
	now := syncschema.NowMillis()
	where, args, orderBy := whereClause(uid, collectionID, q, now)

	query := fmt.Sprintf(`
		SELECT id, payload, payload_size, sortindex, modified, ttl, parentid, predecessorid
		FROM %s WHERE %s ORDER BY %s`, table, where, orderBy)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit+1) // +1 to detect "more"
		if q.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, rewritePlaceholders(query, s.dialect.Placeholder), args...)
	if err != nil {
		return nil, Wrap(err, "get items query")
	}
	defer rows.Close()

	var out BSOList
	for rows.Next() {
		var b ReadBSO
		var payload sql.NullString
		var size sql.NullInt64
		var sortIndex sql.NullInt64
		var parentID, predecessorID sql.NullString
		if err := rows.Scan(&b.ID, &payload, &size, &sortIndex, &b.Modified, &b.TTL, &parentID, &predecessorID); err != nil {
			return nil, Wrap(err, "get items scan")
		}
		b.Payload = payload.String
		b.PayloadSize = int(size.Int64)
		if sortIndex.Valid {
			v := sortIndex.Int64
			b.SortIndex = &v
		}
		if parentID.Valid {
			b.ParentID = &parentID.String
		}
		if predecessorID.Valid {
			b.PredecessorID = &predecessorID.String
		}
		out = append(out, b)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) lookupExistingCollectionID(ctx context.Context, name string) (int, error) {
	var id int
	err := s.db.QueryRowContext(ctx,
		rewritePlaceholders(`SELECT collectionid FROM collections WHERE name = ?`, s.dialect.Placeholder), name,
	).Scan(&id)
	if err == nil {
		s.names.store(name, id)
	}
	return id, err
}

// GetItem implements get_item.
func (s *SQLStore) GetItem(ctx context.Context, uid int64, collection, id string) (*ReadBSO, error) {
	collectionID, err := s.lookupOrCachedID(ctx, collection)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NotFound("item")
		}
		return nil, Wrap(err, "get item")
	}

	table := s.bsoTable(uid)
	now := syncschema.NowMillis()
	var b ReadBSO
	var payload sql.NullString
	var size sql.NullInt64
	var sortIndex sql.NullInt64
	var parentID, predecessorID sql.NullString
	b.ID = id
	err = s.db.QueryRowContext(ctx,
		rewritePlaceholders(fmt.Sprintf(`
			SELECT payload, payload_size, sortindex, modified, ttl, parentid, predecessorid
			FROM %s WHERE userid = ? AND collection = ? AND id = ? AND (ttl * 1000) >= ?`, table),
			s.dialect.Placeholder),
		uid, collectionID, id, now,
	).Scan(&payload, &size, &sortIndex, &b.Modified, &b.TTL, &parentID, &predecessorID)
	if err == sql.ErrNoRows {
		return nil, NotFound("item")
	}
	if err != nil {
		return nil, Wrap(err, "get item query")
	}
	b.Payload = payload.String
	b.PayloadSize = int(size.Int64)
	if sortIndex.Valid {
		v := sortIndex.Int64
		b.SortIndex = &v
	}
	if parentID.Valid {
		b.ParentID = &parentID.String
	}
	if predecessorID.Valid {
		b.PredecessorID = &predecessorID.String
	}
	return &b, nil
}

func (s *SQLStore) lookupOrCachedID(ctx context.Context, name string) (int, error) {
	if id, ok := s.names.lookup(name); ok {
		return id, nil
	}
	return s.lookupExistingCollectionID(ctx, name)
}

// PutItem implements set_item: a single-BSO upsert under a write-locked
// transaction, honoring X-If-Unmodified-Since when unmodifiedSince != nil.
func (s *SQLStore) PutItem(ctx context.Context, uid int64, collection string, item Item, unmodifiedSince *int64) (int64, error) {
	var modified int64
	err := withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		collectionID, err := s.resolveCollectionID(ctx, tx, collection)
		if err != nil {
			return err
		}
		prior, err := s.dialect.LockUserCollection(ctx, tx, uid, collectionID, true)
		if err != nil {
			return err
		}
		if unmodifiedSince != nil && prior > *unmodifiedSince {
			return NewError(KindConflict, "collection modified since precondition")
		}
		if item.Payload != nil {
			if err := s.checkQuota(ctx, tx, uid, int64(len(*item.Payload))); err != nil {
				return err
			}
		}

		newTS := nextTimestamp(prior)
		if err := s.upsertOne(ctx, tx, uid, collectionID, item, newTS); err != nil {
			return err
		}
		if err := s.bumpLastModified(ctx, tx, uid, collectionID, newTS); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		modified = newTS
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

// PutItems implements set_items: a best-effort batch upsert that never
// aborts on one invalid item (spec.md §7).
func (s *SQLStore) PutItems(ctx context.Context, uid int64, collection string, items []Item, unmodifiedSince *int64) (PostResults, error) {
	var results PostResults
	err := withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		collectionID, err := s.resolveCollectionID(ctx, tx, collection)
		if err != nil {
			return err
		}
		prior, err := s.dialect.LockUserCollection(ctx, tx, uid, collectionID, true)
		if err != nil {
			return err
		}
		if unmodifiedSince != nil && prior > *unmodifiedSince {
			return NewError(KindConflict, "collection modified since precondition")
		}

		var addBytes int64
		for _, item := range items {
			if item.Payload != nil {
				addBytes += int64(len(*item.Payload))
			}
		}
		if err := s.checkQuota(ctx, tx, uid, addBytes); err != nil {
			return err
		}

		newTS := nextTimestamp(prior)
		results = NewPostResults(newTS)
		wrote := false
		for _, item := range items {
			if err := s.upsertOne(ctx, tx, uid, collectionID, item, newTS); err != nil {
				results.addFailure(item.ID, err.Error())
				continue
			}
			results.addSuccess(item.ID)
			wrote = true
		}
		if wrote {
			if err := s.bumpLastModified(ctx, tx, uid, collectionID, newTS); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return PostResults{}, err
	}
	return results, nil
}

func (s *SQLStore) upsertOne(ctx context.Context, tx *sql.Tx, uid int64, collectionID int, item Item, modified int64) error {
	var payloadSize *int
	if item.Payload != nil {
		n := len(*item.Payload)
		payloadSize = &n
	}
	table := s.bsoTable(uid)

	var ttl *int64
	if item.TTL != nil {
		abs := syncschema.ExpiresAt(modified, clampExpiry(*item.TTL))
		ttl = &abs
	} else {
		// ttl is NOT NULL; a row new to this table needs the "forever"
		// default filled in, but an existing row must keep its own ttl
		// untouched (COALESCE on the update branch only helps if we leave
		// ttl nil here, which we can only do once we know the row exists).
		var existing sql.NullInt64
		err := tx.QueryRowContext(ctx,
			rewritePlaceholders(fmt.Sprintf(`SELECT ttl FROM %s WHERE userid = ? AND collection = ? AND id = ?`, table), s.dialect.Placeholder),
			uid, collectionID, item.ID,
		).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			abs := syncschema.DefaultTTLAbsolute(modified)
			ttl = &abs
		case err != nil:
			return fmt.Errorf("lookup existing ttl: %w", err)
		}
	}

	row := dialect.BSORow{
		UserID:        uid,
		Collection:    collectionID,
		ID:            item.ID,
		SortIndex:     item.SortIndex,
		Modified:      modified,
		Payload:       item.Payload,
		PayloadSize:   payloadSize,
		TTL:           ttl,
		ParentID:      item.ParentID,
		PredecessorID: item.PredecessorID,
	}
	return s.dialect.UpsertBSO(ctx, tx, table, row)
}

func (s *SQLStore) bumpLastModified(ctx context.Context, tx *sql.Tx, uid int64, collectionID int, newTS int64) error {
	_, err := tx.ExecContext(ctx,
		rewritePlaceholders(`UPDATE user_collections SET last_modified = ? WHERE userid = ? AND collectionid = ?`, s.dialect.Placeholder),
		newTS, uid, collectionID,
	)
	return err
}

// DeleteItem implements delete_item.
func (s *SQLStore) DeleteItem(ctx context.Context, uid int64, collection, id string, unmodifiedSince *int64) (int64, error) {
	var modified int64
	err := withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		collectionID, lookupErr := s.lookupOrCachedIDTx(ctx, tx, collection)
		if lookupErr != nil {
			if lookupErr == sql.ErrNoRows {
				return NotFound("item")
			}
			return lookupErr
		}
		prior, err := s.dialect.LockUserCollection(ctx, tx, uid, collectionID, true)
		if err != nil {
			return err
		}
		if unmodifiedSince != nil && prior > *unmodifiedSince {
			return NewError(KindConflict, "collection modified since precondition")
		}

		table := s.bsoTable(uid)
		res, err := tx.ExecContext(ctx,
			rewritePlaceholders(fmt.Sprintf(`DELETE FROM %s WHERE userid = ? AND collection = ? AND id = ?`, table), s.dialect.Placeholder),
			uid, collectionID, id,
		)
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return NotFound("item")
		}

		newTS := nextTimestamp(prior)
		if err := s.bumpLastModified(ctx, tx, uid, collectionID, newTS); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		modified = newTS
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

func (s *SQLStore) lookupOrCachedIDTx(ctx context.Context, tx *sql.Tx, name string) (int, error) {
	if id, ok := s.names.lookup(name); ok {
		return id, nil
	}
	var id int
	err := tx.QueryRowContext(ctx,
		rewritePlaceholders(`SELECT collectionid FROM collections WHERE name = ?`, s.dialect.Placeholder), name,
	).Scan(&id)
	if err == nil {
		s.names.store(name, id)
	}
	return id, err
}

// DeleteItems implements delete_items: filtered bulk delete, falling back
// to SELECT-then-DELETE on dialects that need it (spec.md §4.1).
func (s *SQLStore) DeleteItems(ctx context.Context, uid int64, collection string, q Query, unmodifiedSince *int64) (int64, error) {
	var modified int64
	err := withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		collectionID, lookupErr := s.lookupOrCachedIDTx(ctx, tx, collection)
		if lookupErr != nil {
			if lookupErr == sql.ErrNoRows {
				// Nothing to delete in a collection that doesn't exist yet.
				modified = 0
				return tx.Commit()
			}
			return lookupErr
		}
		prior, err := s.dialect.LockUserCollection(ctx, tx, uid, collectionID, true)
		if err != nil {
			return err
		}
		if unmodifiedSince != nil && prior > *unmodifiedSince {
			return NewError(KindConflict, "collection modified since precondition")
		}

		now := syncschema.NowMillis()
		where, args, orderBy := whereClause(uid, collectionID, q, now)
		table := s.bsoTable(uid)
		if _, err := s.dialect.DeleteItemsLimited(ctx, tx, table, where, args, orderBy, q.Limit); err != nil {
			return err
		}

		newTS := nextTimestamp(prior)
		if err := s.bumpLastModified(ctx, tx, uid, collectionID, newTS); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		modified = newTS
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

// DeleteCollection implements delete_collection: drop every row and reset
// last_modified to a fresh stamp (the "storage" last_modified of spec.md's
// operation table).
func (s *SQLStore) DeleteCollection(ctx context.Context, uid int64, collection string) (int64, error) {
	var modified int64
	err := withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		collectionID, lookupErr := s.lookupOrCachedIDTx(ctx, tx, collection)
		if lookupErr == sql.ErrNoRows {
			modified = syncschema.NowMillis()
			return tx.Commit()
		}
		if lookupErr != nil {
			return lookupErr
		}
		prior, err := s.dialect.LockUserCollection(ctx, tx, uid, collectionID, true)
		if err != nil {
			return err
		}

		table := s.bsoTable(uid)
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(fmt.Sprintf(`DELETE FROM %s WHERE userid = ? AND collection = ?`, table), s.dialect.Placeholder),
			uid, collectionID,
		); err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}

		newTS := nextTimestamp(prior)
		if err := s.bumpLastModified(ctx, tx, uid, collectionID, newTS); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		modified = newTS
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

// DeleteStorage implements delete_storage: wipe every collection and
// batch belonging to uid. Crosses multiple collections, so it takes write
// locks in ascending collectionid order per spec.md §4.1 to avoid deadlock
// with concurrent single-collection writers.
func (s *SQLStore) DeleteStorage(ctx context.Context, uid int64) error {
	return withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		rows, err := tx.QueryContext(ctx,
			rewritePlaceholders(`SELECT collectionid FROM user_collections WHERE userid = ? ORDER BY collectionid ASC`, s.dialect.Placeholder),
			uid,
		)
		if err != nil {
			return fmt.Errorf("list user collections: %w", err)
		}
		var ids []int
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := s.dialect.LockUserCollection(ctx, tx, uid, id, true); err != nil {
				return err
			}
		}

		table := s.bsoTable(uid)
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(fmt.Sprintf(`DELETE FROM %s WHERE userid = ?`, table), s.dialect.Placeholder), uid,
		); err != nil {
			return fmt.Errorf("delete storage bso: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(`DELETE FROM user_collections WHERE userid = ?`, s.dialect.Placeholder), uid,
		); err != nil {
			return fmt.Errorf("delete storage user_collections: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(`DELETE FROM batch_uploads WHERE userid = ?`, s.dialect.Placeholder), uid,
		); err != nil {
			return fmt.Errorf("delete storage batches: %w", err)
		}

		return tx.Commit()
	})
}
