package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cuemby/syncstore/pkg/storage/dialect"
	"github.com/cuemby/syncstore/pkg/syncschema"
	"github.com/google/uuid"
)

// newBatchID mixes a random suffix into a batch id so that concurrent
// CreateBatch calls from the same user never collide even though the
// staging table's primary key is (batch, userid, id), not an
// autoincrement: ids are minted client-side of the sequence, not by it.
func newBatchID(nowMillis int64) int64 {
	u := uuid.New()
	// Fold the random uuid down into a 6-digit suffix so the value stays
	// time-ordered in its high digits (useful to the sweep) while staying
	// well clear of int64's range even centuries from now.
	suffix := uint32(u[12])<<16 | uint32(u[13])<<8 | uint32(u[14])
	return nowMillis*1_000_000 + int64(suffix%1_000_000)
}

// CreateBatch implements create_batch: stages a new batch row and returns
// its id. The collection need not exist yet; it is resolved lazily like
// any other write.
func (s *SQLStore) CreateBatch(ctx context.Context, uid int64, collection string) (int64, error) {
	var batchID int64
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

		now := syncschema.NowMillis()
		batchID = newBatchID(now)
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(`INSERT INTO batch_uploads (batch, userid, collection, created_at) VALUES (?, ?, ?, ?)`, s.dialect.Placeholder),
			batchID, uid, collectionID, now,
		); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return batchID, nil
}

// AppendBatch implements append_to_batch: stages items into the batch's
// scratch table without touching the live bso rows or last_modified, so
// concurrent readers never observe a partially-uploaded batch.
func (s *SQLStore) AppendBatch(ctx context.Context, uid int64, collection string, batchID int64, items []Item) (PostResults, error) {
	var results PostResults
	err := withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		if err := s.checkBatchOwner(ctx, tx, uid, collection, batchID); err != nil {
			return err
		}

		table := s.batchItemsTable(uid)
		results = NewPostResults(0)
		for _, item := range items {
			var payloadSize *int
			if item.Payload != nil {
				n := len(*item.Payload)
				payloadSize = &n
			}
			_, err := tx.ExecContext(ctx,
				rewritePlaceholders(fmt.Sprintf(`
					INSERT INTO %s (batch, userid, id, sortindex, payload, payload_size, ttl_offset)
					VALUES (?, ?, ?, ?, ?, ?, ?)
				`, table), s.dialect.Placeholder),
				batchID, uid, item.ID, item.SortIndex, item.Payload, payloadSize, item.TTL,
			)
			if err != nil {
				results.addFailure(item.ID, err.Error())
				continue
			}
			results.addSuccess(item.ID)
		}
		return tx.Commit()
	})
	if err != nil {
		return PostResults{}, err
	}
	return results, nil
}

// CommitBatch implements commit_batch: replays every staged item through
// the same locked upsert path as a normal write, then drops the staging
// rows. Atomic from the caller's perspective: either every staged item
// lands with one new last_modified, or none of them do.
func (s *SQLStore) CommitBatch(ctx context.Context, uid int64, collection string, batchID int64) (int64, error) {
	var modified int64
	err := withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		cid, lookupErr := s.lookupOrCachedIDTx(ctx, tx, collection)
		if lookupErr != nil {
			if lookupErr == sql.ErrNoRows {
				return NotFound("batch")
			}
			return lookupErr
		}
		if err := s.checkBatchOwner(ctx, tx, uid, collection, batchID); err != nil {
			return err
		}

		prior, err := s.dialect.LockUserCollection(ctx, tx, uid, cid, true)
		if err != nil {
			return err
		}
		newTS := nextTimestamp(prior)

		itemsTable := s.batchItemsTable(uid)
		rows, err := tx.QueryContext(ctx,
			rewritePlaceholders(fmt.Sprintf(`
				SELECT id, sortindex, payload, payload_size, ttl_offset FROM %s WHERE batch = ? AND userid = ?
			`, itemsTable), s.dialect.Placeholder),
			batchID, uid,
		)
		if err != nil {
			return fmt.Errorf("read batch items: %w", err)
		}
		var stagedItems []Item
		for rows.Next() {
			var id string
			var sortIndex sql.NullInt64
			var payload sql.NullString
			var payloadSize sql.NullInt64
			var ttlOffset sql.NullInt64
			if err := rows.Scan(&id, &sortIndex, &payload, &payloadSize, &ttlOffset); err != nil {
				rows.Close()
				return fmt.Errorf("scan batch item: %w", err)
			}
			it := Item{ID: id}
			if sortIndex.Valid {
				v := sortIndex.Int64
				it.SortIndex = &v
			}
			if payload.Valid {
				v := payload.String
				it.Payload = &v
			}
			if ttlOffset.Valid {
				v := ttlOffset.Int64
				it.TTL = &v
			}
			stagedItems = append(stagedItems, it)
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate batch items: %w", err)
		}
		if closeErr != nil {
			return closeErr
		}

		var addBytes int64
		for _, it := range stagedItems {
			if it.Payload != nil {
				addBytes += int64(len(*it.Payload))
			}
		}
		if err := s.checkQuota(ctx, tx, uid, addBytes); err != nil {
			return err
		}

		for _, it := range stagedItems {
			if err := s.upsertOne(ctx, tx, uid, cid, it, newTS); err != nil {
				return fmt.Errorf("commit batch item %s: %w", it.ID, err)
			}
		}
		if err := s.bumpLastModified(ctx, tx, uid, cid, newTS); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(fmt.Sprintf(`DELETE FROM %s WHERE batch = ? AND userid = ?`, itemsTable), s.dialect.Placeholder),
			batchID, uid,
		); err != nil {
			return fmt.Errorf("clear batch items: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(`DELETE FROM batch_uploads WHERE batch = ? AND userid = ?`, s.dialect.Placeholder),
			batchID, uid,
		); err != nil {
			return fmt.Errorf("clear batch: %w", err)
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

// CloseBatch implements close_batch: discards a batch without committing
// it, used when a client abandons an in-progress upload.
func (s *SQLStore) CloseBatch(ctx context.Context, uid int64, collection string, batchID int64) error {
	return withRetry(ctx, func() error {
		tx, err := s.dialect.BeginWrite(ctx, s.db)
		if err != nil {
			return fmt.Errorf("begin write: %w", err)
		}
		defer rollback(tx)

		if err := s.checkBatchOwner(ctx, tx, uid, collection, batchID); err != nil {
			return err
		}

		itemsTable := s.batchItemsTable(uid)
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(fmt.Sprintf(`DELETE FROM %s WHERE batch = ? AND userid = ?`, itemsTable), s.dialect.Placeholder),
			batchID, uid,
		); err != nil {
			return fmt.Errorf("clear batch items: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			rewritePlaceholders(`DELETE FROM batch_uploads WHERE batch = ? AND userid = ?`, s.dialect.Placeholder),
			batchID, uid,
		); err != nil {
			return fmt.Errorf("clear batch: %w", err)
		}
		return tx.Commit()
	})
}

// checkBatchOwner verifies batchID belongs to uid/collection and has not
// expired past BatchTTLSeconds, returning a not-found *Error otherwise.
func (s *SQLStore) checkBatchOwner(ctx context.Context, tx *sql.Tx, uid int64, collection string, batchID int64) error {
	collectionID, err := s.lookupOrCachedIDTx(ctx, tx, collection)
	if err != nil {
		if err == sql.ErrNoRows {
			return NotFound("batch")
		}
		return err
	}

	var gotCollection int
	var createdAt int64
	err = tx.QueryRowContext(ctx,
		rewritePlaceholders(`SELECT collection, created_at FROM batch_uploads WHERE batch = ? AND userid = ?`, s.dialect.Placeholder),
		batchID, uid,
	).Scan(&gotCollection, &createdAt)
	if err == sql.ErrNoRows {
		return NotFound("batch")
	}
	if err != nil {
		return fmt.Errorf("lookup batch: %w", err)
	}
	if gotCollection != collectionID {
		return NotFound("batch")
	}
	if syncschema.NowMillis()-createdAt > syncschema.BatchTTLSeconds*1000 {
		return NewError(KindNotFound, "batch expired")
	}
	return nil
}

func (s *SQLStore) batchItemsTable(userID int64) string {
	return fmt.Sprintf("batch_upload_items_%d", dialect.Shard(userID, s.shards))
}
