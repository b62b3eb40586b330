package storage

import (
	"fmt"
	"strings"

	"github.com/cuemby/syncstore/pkg/syncschema"
)

// whereClause renders a Query into a portable WHERE fragment (no
// dialect-specific syntax — only placeholders, which the caller rewrites
// per-dialect) plus its bound arguments, and the ORDER BY fragment.
// ttl is always filtered implicitly: expired rows are invisible to every
// read (spec.md §4.1 TTL semantics).
func whereClause(userID int64, collectionID int, q Query, nowMillis int64) (where string, args []interface{}, orderBy string) {
	var b strings.Builder
	b.WriteString("userid = ? AND collection = ? AND (ttl * 1000) >= ?")
	args = append(args, userID, collectionID, nowMillis)

	if len(q.IDs) > 0 {
		placeholders := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		fmt.Fprintf(&b, " AND id IN (%s)", strings.Join(placeholders, ","))
	}
	if q.Older != nil {
		b.WriteString(" AND modified < ?")
		args = append(args, int64(*q.Older*1000))
	}
	if q.Newer != nil {
		b.WriteString(" AND modified > ?")
		args = append(args, int64(*q.Newer*1000))
	}
	if q.IndexAbove != nil {
		b.WriteString(" AND sortindex > ?")
		args = append(args, *q.IndexAbove)
	}
	if q.IndexBelow != nil {
		b.WriteString(" AND sortindex < ?")
		args = append(args, *q.IndexBelow)
	}

	switch q.Sort {
	case SortOldest:
		orderBy = "modified ASC, id ASC"
	case SortNewest:
		orderBy = "modified DESC, id ASC"
	case SortIndex:
		orderBy = "sortindex DESC, id ASC"
	default:
		orderBy = "id ASC"
	}

	return b.String(), args, orderBy
}

// rewritePlaceholders swaps the portable "?" markers in sql for the
// dialect's own bind syntax ("?" unchanged for SQLite/MySQL, "$1".."$n"
// for Postgres).
func rewritePlaceholders(sqlText string, placeholder func(n int) string) string {
	if placeholder(1) == "?" {
		return sqlText
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(sqlText); i++ {
		if sqlText[i] == '?' {
			n++
			b.WriteString(placeholder(n))
			continue
		}
		b.WriteByte(sqlText[i])
	}
	return b.String()
}

// clampExpiry normalizes a ttl to the store's accepted range, mirroring
// syncschema's MaxTTLSeconds ceiling.
func clampExpiry(ttl int64) int64 {
	if ttl < 0 {
		return 0
	}
	if ttl > syncschema.MaxTTLSeconds {
		return syncschema.MaxTTLSeconds
	}
	return ttl
}
