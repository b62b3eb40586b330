package controller

import (
	"context"
	"sync"

	"github.com/cuemby/syncstore/pkg/storage"
)

// fakeStore is a hand-written, in-memory storage.Store used to exercise
// the HTTP surface end-to-end without a real SQL engine, grounded on the
// same hand-written-fake style as pkg/cache's tests.
type fakeStore struct {
	mu         sync.Mutex
	clock      int64
	quotaBytes int64 // 0 means unlimited

	items   map[int64]map[string]map[string]storage.ReadBSO // uid -> collection -> id -> row
	mod     map[int64]map[string]int64                      // uid -> collection -> last_modified
	batches map[int64]*fakeBatch
}

func newFakeStore(quotaBytes int64) *fakeStore {
	return &fakeStore{
		quotaBytes: quotaBytes,
		items:      make(map[int64]map[string]map[string]storage.ReadBSO),
		mod:        make(map[int64]map[string]int64),
	}
}

func (f *fakeStore) tick() int64 {
	f.clock++
	return f.clock
}

func (f *fakeStore) collection(uid int64, name string) map[string]storage.ReadBSO {
	byColl, ok := f.items[uid]
	if !ok {
		byColl = make(map[string]map[string]storage.ReadBSO)
		f.items[uid] = byColl
	}
	rows, ok := byColl[name]
	if !ok {
		rows = make(map[string]storage.ReadBSO)
		byColl[name] = rows
	}
	return rows
}

func (f *fakeStore) lastModified(uid int64, name string) int64 {
	byColl, ok := f.mod[uid]
	if !ok {
		return 0
	}
	return byColl[name]
}

func (f *fakeStore) setLastModified(uid int64, name string, ts int64) {
	byColl, ok := f.mod[uid]
	if !ok {
		byColl = make(map[string]int64)
		f.mod[uid] = byColl
	}
	byColl[name] = ts
}

func (f *fakeStore) checkPrecondition(uid int64, collection string, unmodifiedSince *int64) *storage.Error {
	if unmodifiedSince == nil {
		return nil
	}
	if f.lastModified(uid, collection) > *unmodifiedSince {
		return storage.NewError(storage.KindConflict, "collection modified since precondition")
	}
	return nil
}

func (f *fakeStore) totalBytes(uid int64) int64 {
	var total int64
	for _, rows := range f.items[uid] {
		for _, row := range rows {
			total += int64(row.PayloadSize)
		}
	}
	return total
}

func (f *fakeStore) CollectionTimestamps(ctx context.Context, uid int64) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for name, rows := range f.items[uid] {
		if len(rows) > 0 {
			out[name] = f.lastModified(uid, name)
		}
	}
	return out, nil
}

func (f *fakeStore) CollectionCounts(ctx context.Context, uid int64) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for name, rows := range f.items[uid] {
		if len(rows) > 0 {
			out[name] = len(rows)
		}
	}
	return out, nil
}

func (f *fakeStore) CollectionUsage(ctx context.Context, uid int64) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for name, rows := range f.items[uid] {
		var sum int64
		for _, row := range rows {
			sum += int64(row.PayloadSize)
		}
		if sum > 0 {
			out[name] = sum
		}
	}
	return out, nil
}

func (f *fakeStore) StorageSize(ctx context.Context, uid int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalBytes(uid), nil
}

func (f *fakeStore) GetItems(ctx context.Context, uid int64, collection string, q storage.Query) (storage.BSOList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.collection(uid, collection)

	var wantIDs map[string]bool
	if len(q.IDs) > 0 {
		wantIDs = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			wantIDs[id] = true
		}
	}

	var out storage.BSOList
	for id, row := range rows {
		if wantIDs != nil && !wantIDs[id] {
			continue
		}
		out = append(out, row)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) GetItem(ctx context.Context, uid int64, collection, id string) (*storage.ReadBSO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.collection(uid, collection)
	row, ok := rows[id]
	if !ok {
		return nil, storage.NotFound("item")
	}
	return &row, nil
}

func (f *fakeStore) putOne(uid int64, collection string, item storage.Item) {
	rows := f.collection(uid, collection)
	existing, had := rows[item.ID]
	modified := f.tick()
	row := storage.ReadBSO{ID: item.ID, Modified: modified}
	if item.Payload != nil {
		row.Payload = *item.Payload
		row.PayloadSize = len(*item.Payload)
	} else if had {
		row.Payload = existing.Payload
		row.PayloadSize = existing.PayloadSize
	}
	if item.SortIndex != nil {
		row.SortIndex = item.SortIndex
	} else if had {
		row.SortIndex = existing.SortIndex
	}
	if item.ParentID != nil {
		row.ParentID = item.ParentID
	}
	if item.PredecessorID != nil {
		row.PredecessorID = item.PredecessorID
	}
	rows[item.ID] = row
	f.setLastModified(uid, collection, modified)
}

func (f *fakeStore) PutItem(ctx context.Context, uid int64, collection string, item storage.Item, unmodifiedSince *int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if perr := f.checkPrecondition(uid, collection, unmodifiedSince); perr != nil {
		return 0, perr
	}
	if f.quotaBytes > 0 && item.Payload != nil {
		if f.totalBytes(uid)+int64(len(*item.Payload)) > f.quotaBytes {
			return 0, storage.NewError(storage.KindOverQuota, "over quota")
		}
	}
	f.putOne(uid, collection, item)
	return f.lastModified(uid, collection), nil
}

func (f *fakeStore) PutItems(ctx context.Context, uid int64, collection string, items []storage.Item, unmodifiedSince *int64) (storage.PostResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if perr := f.checkPrecondition(uid, collection, unmodifiedSince); perr != nil {
		return storage.PostResults{}, perr
	}
	results := storage.NewPostResults(0)
	for _, item := range items {
		if f.quotaBytes > 0 && item.Payload != nil && f.totalBytes(uid)+int64(len(*item.Payload)) > f.quotaBytes {
			results.Failed[item.ID] = "over quota"
			continue
		}
		f.putOne(uid, collection, item)
		results.Success = append(results.Success, item.ID)
	}
	results.Modified = f.lastModified(uid, collection)
	return results, nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, uid int64, collection, id string, unmodifiedSince *int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if perr := f.checkPrecondition(uid, collection, unmodifiedSince); perr != nil {
		return 0, perr
	}
	rows := f.collection(uid, collection)
	if _, ok := rows[id]; !ok {
		return 0, storage.NotFound("item")
	}
	delete(rows, id)
	modified := f.tick()
	f.setLastModified(uid, collection, modified)
	return modified, nil
}

func (f *fakeStore) DeleteItems(ctx context.Context, uid int64, collection string, q storage.Query, unmodifiedSince *int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if perr := f.checkPrecondition(uid, collection, unmodifiedSince); perr != nil {
		return 0, perr
	}
	rows := f.collection(uid, collection)
	if len(q.IDs) > 0 {
		for _, id := range q.IDs {
			delete(rows, id)
		}
	} else {
		for id := range rows {
			delete(rows, id)
		}
	}
	modified := f.tick()
	f.setLastModified(uid, collection, modified)
	return modified, nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context, uid int64, collection string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collection(uid, collection) // ensure the uid's collection map exists
	f.items[uid][collection] = make(map[string]storage.ReadBSO)
	modified := f.tick()
	f.setLastModified(uid, collection, modified)
	return modified, nil
}

func (f *fakeStore) DeleteStorage(ctx context.Context, uid int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, uid)
	delete(f.mod, uid)
	return nil
}

type fakeBatch struct {
	uid        int64
	collection string
	items      []storage.Item
}

func (f *fakeStore) CreateBatch(ctx context.Context, uid int64, collection string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.tick()
	if f.batches == nil {
		f.batches = make(map[int64]*fakeBatch)
	}
	f.batches[id] = &fakeBatch{uid: uid, collection: collection}
	return id, nil
}

func (f *fakeStore) AppendBatch(ctx context.Context, uid int64, collection string, batchID int64, items []storage.Item) (storage.PostResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return storage.PostResults{}, storage.NewError(storage.KindNotFound, "batch expired")
	}
	b.items = append(b.items, items...)
	results := storage.NewPostResults(0)
	for _, item := range items {
		results.Success = append(results.Success, item.ID)
	}
	return results, nil
}

func (f *fakeStore) CommitBatch(ctx context.Context, uid int64, collection string, batchID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return 0, storage.NewError(storage.KindNotFound, "batch expired")
	}
	for _, item := range b.items {
		f.putOne(uid, collection, item)
	}
	delete(f.batches, batchID)
	return f.lastModified(uid, collection), nil
}

func (f *fakeStore) CloseBatch(ctx context.Context, uid int64, collection string, batchID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.batches, batchID)
	return nil
}

func (f *fakeStore) Close() error { return nil }
