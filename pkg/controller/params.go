package controller

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cuemby/syncstore/pkg/storage"
)

// ParseQuery turns a GET/DELETE collection request's query string into a
// storage.Query, per the filter grammar of spec.md §4.1. A malformed
// numeric parameter is a KindMalformed error, not a panic or a silently
// ignored value.
func ParseQuery(values url.Values) (storage.Query, *storage.Error) {
	var q storage.Query

	if ids := values.Get("ids"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				q.IDs = append(q.IDs, id)
			}
		}
	}

	if v := values.Get("older"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return q, storage.NewError(storage.KindMalformed, "invalid older parameter")
		}
		q.Older = &f
	}
	if v := values.Get("newer"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return q, storage.NewError(storage.KindMalformed, "invalid newer parameter")
		}
		q.Newer = &f
	}
	if v := values.Get("index_above"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, storage.NewError(storage.KindMalformed, "invalid index_above parameter")
		}
		q.IndexAbove = &n
	}
	if v := values.Get("index_below"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return q, storage.NewError(storage.KindMalformed, "invalid index_below parameter")
		}
		q.IndexBelow = &n
	}

	switch values.Get("sort") {
	case "", "none":
		q.Sort = storage.SortNone
	case "oldest":
		q.Sort = storage.SortOldest
	case "newest":
		q.Sort = storage.SortNewest
	case "index":
		q.Sort = storage.SortIndex
	default:
		return q, storage.NewError(storage.KindMalformed, "invalid sort parameter")
	}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, storage.NewError(storage.KindMalformed, "invalid limit parameter")
		}
		q.Limit = n
	}
	// offset without limit is a no-op, not a 400 (spec.md §9 open question).
	if v := values.Get("offset"); v != "" && q.Limit > 0 {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, storage.NewError(storage.KindMalformed, "invalid offset parameter")
		}
		q.Offset = n
	}

	if v := values.Get("full"); v == "1" || v == "true" {
		q.FullObjects = true
	}

	return q, nil
}

// hasFilterParams reports whether a DELETE collection request names any
// filter, distinguishing a bulk "delete the whole collection" from a
// filtered "delete these items" (DeleteItems).
func hasFilterParams(values url.Values) bool {
	for _, key := range []string{"ids", "older", "newer", "index_above", "index_below"} {
		if values.Get(key) != "" {
			return true
		}
	}
	return false
}
