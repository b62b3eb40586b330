package controller

import (
	"math"

	"github.com/cuemby/syncstore/pkg/storage"
)

// wireBSO is the on-the-wire shape of a BSO read result: modified is a
// seconds-with-milliseconds stamp (matching info/collections), not the
// raw millisecond integer storage uses internally.
type wireBSO struct {
	ID            string  `json:"id"`
	Modified      float64 `json:"modified"`
	Payload       *string `json:"payload,omitempty"`
	SortIndex     *int64  `json:"sortindex,omitempty"`
	TTL           int64   `json:"ttl,omitempty"`
	ParentID      *string `json:"parentid,omitempty"`
	PredecessorID *string `json:"predecessorid,omitempty"`
}

// stamp converts a millisecond server timestamp to the seconds-with-3-
// decimal-places form used in response bodies (info/collections values,
// a BSO's modified field).
func stamp(ms int64) float64 {
	return math.Round(float64(ms)) / 1000
}

func stampMap(ms map[string]int64) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for k, v := range ms {
		out[k] = stamp(v)
	}
	return out
}

// wirePostResults is the on-the-wire shape of set_items/append_to_batch/
// commit_batch outcomes.
type wirePostResults struct {
	Modified float64           `json:"modified"`
	Success  []string          `json:"success"`
	Failed   map[string]string `json:"failed"`
	BatchID  *int64            `json:"batch,omitempty"`
}

func toWirePostResults(r storage.PostResults) wirePostResults {
	return wirePostResults{
		Modified: stamp(r.Modified),
		Success:  r.Success,
		Failed:   r.Failed,
		BatchID:  r.BatchID,
	}
}

func toWireBSO(b storage.ReadBSO, full bool) wireBSO {
	w := wireBSO{ID: b.ID, Modified: stamp(b.Modified)}
	if full {
		payload := b.Payload
		w.Payload = &payload
		w.SortIndex = b.SortIndex
		w.TTL = b.TTL
		w.ParentID = b.ParentID
		w.PredecessorID = b.PredecessorID
	}
	return w
}
