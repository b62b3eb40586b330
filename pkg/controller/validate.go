package controller

import (
	"github.com/cuemby/syncstore/pkg/storage"
	"github.com/cuemby/syncstore/pkg/syncschema"
)

// ValidateBSO converts a wire BSO into the normalized storage.Item the
// store layer accepts, rejecting anything that violates the wire-level
// limits before it ever reaches SQL or the cache.
func ValidateBSO(b syncschema.BSO) (storage.Item, *storage.Error) {
	if !syncschema.ValidID(b.ID) {
		return storage.Item{}, storage.NewError(storage.KindInvalidBSO, "invalid bso id")
	}
	if b.Payload != nil && len(*b.Payload) > syncschema.MaxPayloadBytes {
		return storage.Item{}, storage.NewError(storage.KindInvalidBSO, "payload exceeds maximum size")
	}
	if b.SortIndex != nil && (*b.SortIndex < syncschema.MinSortIndex || *b.SortIndex > syncschema.MaxSortIndex) {
		return storage.Item{}, storage.NewError(storage.KindInvalidBSO, "sortindex out of range")
	}
	if b.TTL != nil && *b.TTL < 0 {
		return storage.Item{}, storage.NewError(storage.KindInvalidBSO, "ttl must not be negative")
	}
	if b.ParentID != nil && len(*b.ParentID) > syncschema.MaxBSOIDLength {
		return storage.Item{}, storage.NewError(storage.KindInvalidBSO, "parentid too long")
	}
	if b.PredecessorID != nil && len(*b.PredecessorID) > syncschema.MaxBSOIDLength {
		return storage.Item{}, storage.NewError(storage.KindInvalidBSO, "predecessorid too long")
	}

	return storage.Item{
		ID:            b.ID,
		Payload:       b.Payload,
		SortIndex:     b.SortIndex,
		TTL:           b.TTL,
		ParentID:      b.ParentID,
		PredecessorID: b.PredecessorID,
	}, nil
}

// ValidateBatch validates every BSO in a batch upload, returning the
// normalized items alongside a per-id reason map for anything rejected
// (set_items/append_to_batch report these as failures rather than
// aborting the whole request).
func ValidateBatch(bsos []syncschema.BSO) ([]storage.Item, map[string]string) {
	items := make([]storage.Item, 0, len(bsos))
	failed := make(map[string]string)
	for _, b := range bsos {
		item, err := ValidateBSO(b)
		if err != nil {
			if b.ID != "" {
				failed[b.ID] = err.Message
			}
			continue
		}
		items = append(items, item)
	}
	return items, failed
}
