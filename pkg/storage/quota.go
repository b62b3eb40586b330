package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// checkQuota returns a KindOverQuota error if writing addBytes more to
// uid's storage would exceed the configured ceiling. Called from inside
// an already-open write transaction so the read is consistent with the
// write it is gating; quota is advisory across concurrent writers in the
// same instant (spec.md §5 accepts this race rather than serializing all
// writes globally per user).
func (s *SQLStore) checkQuota(ctx context.Context, tx *sql.Tx, uid int64, addBytes int64) error {
	if !s.quota || s.quotaKB <= 0 {
		return nil
	}
	table := s.bsoTable(uid)
	var usedBytes sql.NullInt64
	err := tx.QueryRowContext(ctx,
		rewritePlaceholders(fmt.Sprintf(`SELECT COALESCE(SUM(payload_size), 0) FROM %s WHERE userid = ?`, table), s.dialect.Placeholder),
		uid,
	).Scan(&usedBytes)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	limitBytes := s.quotaKB * 1024
	if usedBytes.Int64+addBytes > limitBytes {
		return NewError(KindOverQuota, "over quota")
	}
	return nil
}
