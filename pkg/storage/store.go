package storage

import (
	"context"
)

// Sort selects the ordering of a GetItems/DeleteItems result.
type Sort int

const (
	SortNone Sort = iota
	SortOldest
	SortNewest
	SortIndex
)

// Query describes the filter/sort/paging parameters accepted by GetItems
// and DeleteItems, mirroring the filter grammar of spec.md §4.1.
type Query struct {
	IDs         []string
	Older       *float64 // seconds, exclusive upper bound on modified
	Newer       *float64 // seconds, exclusive lower bound on modified
	IndexAbove  *int64
	IndexBelow  *int64
	Sort        Sort
	Limit       int // 0 means unbounded
	Offset      int // ignored unless Limit > 0 (spec.md §9 open question)
	FullObjects bool
}

// PostResults is the outcome of a multi-item write: set_items,
// append_to_batch, commit_batch.
type PostResults struct {
	Modified int64             // new collection last_modified, ms
	Success  []string          // ids written successfully
	Failed   map[string]string // id -> human-readable reason
	BatchID  *int64            // set by AppendBatch when the batch is still open (not yet committed)
}

// NewPostResults returns an empty result stamped with modified.
func NewPostResults(modified int64) PostResults {
	return PostResults{
		Modified: modified,
		Success:  make([]string, 0),
		Failed:   make(map[string]string),
	}
}

func (p *PostResults) addSuccess(id string) {
	p.Success = append(p.Success, id)
}

func (p *PostResults) addFailure(id, reason string) {
	p.Failed[id] = reason
}

// Store is the capability interface every layer above persistence talks
// to — both the plain SQL engine (SQLStore) and the cache overlay
// (pkg/cache.Overlay) implement it, so the controller never needs to know
// which one it holds. This collapses the teacher's "abstract base class"
// instinct (it has none; Go simply has no such mechanism) into the single
// interface spec.md §9 calls for.
type Store interface {
	CollectionTimestamps(ctx context.Context, uid int64) (map[string]int64, error)
	CollectionCounts(ctx context.Context, uid int64) (map[string]int, error)
	CollectionUsage(ctx context.Context, uid int64) (map[string]int64, error)
	StorageSize(ctx context.Context, uid int64) (int64, error)

	GetItems(ctx context.Context, uid int64, collection string, q Query) (BSOList, error)
	GetItem(ctx context.Context, uid int64, collection, id string) (*ReadBSO, error)

	PutItem(ctx context.Context, uid int64, collection string, item Item, unmodifiedSince *int64) (modified int64, err error)
	PutItems(ctx context.Context, uid int64, collection string, items []Item, unmodifiedSince *int64) (PostResults, error)

	DeleteItem(ctx context.Context, uid int64, collection, id string, unmodifiedSince *int64) (modified int64, err error)
	DeleteItems(ctx context.Context, uid int64, collection string, q Query, unmodifiedSince *int64) (modified int64, err error)
	DeleteCollection(ctx context.Context, uid int64, collection string) (modified int64, err error)
	DeleteStorage(ctx context.Context, uid int64) error

	CreateBatch(ctx context.Context, uid int64, collection string) (batchID int64, err error)
	AppendBatch(ctx context.Context, uid int64, collection string, batchID int64, items []Item) (PostResults, error)
	CommitBatch(ctx context.Context, uid int64, collection string, batchID int64) (modified int64, err error)
	CloseBatch(ctx context.Context, uid int64, collection string, batchID int64) error

	Close() error
}

// Item is the validated, normalized form of a wire BSO that the store
// layer accepts on write. The controller is responsible for validating a
// wire BSO into an Item (pkg/controller/validate.go); the store never
// re-validates field shapes, only uniqueness/quota/precondition.
type Item struct {
	ID            string
	Payload       *string
	SortIndex     *int64
	TTL           *int64 // seconds, relative; nil preserves prior ttl on update
	ParentID      *string
	PredecessorID *string
}

// BSOList is a page of read results.
type BSOList []ReadBSO

// ReadBSO is a fully materialized BSO as returned to a reader.
type ReadBSO struct {
	ID            string
	Payload       string
	PayloadSize   int
	SortIndex     *int64
	Modified      int64
	TTL           int64
	ParentID      *string
	PredecessorID *string
}
