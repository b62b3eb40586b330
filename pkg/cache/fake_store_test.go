package cache

import (
	"context"
	"sync"

	"github.com/cuemby/syncstore/pkg/storage"
)

// fakeStore is a hand-written storage.Store stub: enough behavior to
// exercise Overlay's write-through and pass-through paths, plus a call
// counter so tests can assert whether a given operation ever reached the
// wrapped store at all (the point of testing tabs/meta special-casing).
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]map[string]storage.ReadBSO
	calls   map[string]int
	counter int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]map[string]storage.ReadBSO), calls: make(map[string]int)}
}

func (f *fakeStore) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeStore) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStore) nextModified() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return f.counter
}

func (f *fakeStore) CollectionTimestamps(ctx context.Context, uid int64) (map[string]int64, error) {
	f.record("CollectionTimestamps")
	return map[string]int64{}, nil
}

func (f *fakeStore) CollectionCounts(ctx context.Context, uid int64) (map[string]int, error) {
	f.record("CollectionCounts")
	return map[string]int{}, nil
}

func (f *fakeStore) CollectionUsage(ctx context.Context, uid int64) (map[string]int64, error) {
	f.record("CollectionUsage")
	return map[string]int64{}, nil
}

func (f *fakeStore) StorageSize(ctx context.Context, uid int64) (int64, error) {
	f.record("StorageSize")
	return 0, nil
}

func (f *fakeStore) GetItems(ctx context.Context, uid int64, collection string, q storage.Query) (storage.BSOList, error) {
	f.record("GetItems:" + collection)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out storage.BSOList
	for _, item := range f.data[collection] {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeStore) GetItem(ctx context.Context, uid int64, collection, id string) (*storage.ReadBSO, error) {
	f.record("GetItem:" + collection)
	f.mu.Lock()
	defer f.mu.Unlock()
	byID, ok := f.data[collection]
	if !ok {
		return nil, storage.NotFound("item")
	}
	item, ok := byID[id]
	if !ok {
		return nil, storage.NotFound("item")
	}
	return &item, nil
}

func (f *fakeStore) PutItem(ctx context.Context, uid int64, collection string, item storage.Item, unmodifiedSince *int64) (int64, error) {
	f.record("PutItem:" + collection)
	modified := f.nextModified()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[collection] == nil {
		f.data[collection] = make(map[string]storage.ReadBSO)
	}
	row := storage.ReadBSO{ID: item.ID, Modified: modified, SortIndex: item.SortIndex, ParentID: item.ParentID, PredecessorID: item.PredecessorID}
	if item.Payload != nil {
		row.Payload = *item.Payload
		row.PayloadSize = len(*item.Payload)
	}
	f.data[collection][item.ID] = row
	return modified, nil
}

func (f *fakeStore) PutItems(ctx context.Context, uid int64, collection string, items []storage.Item, unmodifiedSince *int64) (storage.PostResults, error) {
	f.record("PutItems:" + collection)
	modified := f.nextModified()
	results := storage.NewPostResults(modified)
	for _, item := range items {
		if _, err := f.PutItem(ctx, uid, collection, item, nil); err != nil {
			results.Failed[item.ID] = err.Error()
			continue
		}
		results.Success = append(results.Success, item.ID)
	}
	return results, nil
}

func (f *fakeStore) DeleteItem(ctx context.Context, uid int64, collection, id string, unmodifiedSince *int64) (int64, error) {
	f.record("DeleteItem:" + collection)
	f.mu.Lock()
	if byID, ok := f.data[collection]; ok {
		delete(byID, id)
	}
	f.mu.Unlock()
	return f.nextModified(), nil
}

func (f *fakeStore) DeleteItems(ctx context.Context, uid int64, collection string, q storage.Query, unmodifiedSince *int64) (int64, error) {
	f.record("DeleteItems:" + collection)
	f.mu.Lock()
	f.data[collection] = make(map[string]storage.ReadBSO)
	f.mu.Unlock()
	return f.nextModified(), nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context, uid int64, collection string) (int64, error) {
	f.record("DeleteCollection:" + collection)
	f.mu.Lock()
	delete(f.data, collection)
	f.mu.Unlock()
	return f.nextModified(), nil
}

func (f *fakeStore) DeleteStorage(ctx context.Context, uid int64) error {
	f.record("DeleteStorage")
	f.mu.Lock()
	f.data = make(map[string]map[string]storage.ReadBSO)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) CreateBatch(ctx context.Context, uid int64, collection string) (int64, error) {
	f.record("CreateBatch:" + collection)
	return 1, nil
}

func (f *fakeStore) AppendBatch(ctx context.Context, uid int64, collection string, batchID int64, items []storage.Item) (storage.PostResults, error) {
	f.record("AppendBatch:" + collection)
	return storage.NewPostResults(0), nil
}

func (f *fakeStore) CommitBatch(ctx context.Context, uid int64, collection string, batchID int64) (int64, error) {
	f.record("CommitBatch:" + collection)
	return f.nextModified(), nil
}

func (f *fakeStore) CloseBatch(ctx context.Context, uid int64, collection string, batchID int64) error {
	f.record("CloseBatch:" + collection)
	return nil
}

func (f *fakeStore) Close() error { return nil }
