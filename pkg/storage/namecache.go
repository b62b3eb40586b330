package storage

import (
	"encoding/binary"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// nameCache is the per-process cache mapping collectionid <-> name, so
// that resolving a collection name to an id (or vice versa) on the
// common path never touches SQL. Collection-id assignment is global (one
// name maps to the same id for every user, spec.md §3), so a single
// process-wide map is sufficient. Entries are added as names are
// resolved (including a name just inserted into `collections`) and are
// never removed on the request path: an id, once assigned to a name, is
// never reassigned.
//
// Grounded on the teacher's pkg/storage/boltdb.go: that file persisted
// cluster state to a local BoltDB file purely for restart-speed; here the
// same bbolt handle is repurposed as an optional warm-start index for
// this cache rather than a system of record (SQL remains authoritative).
type nameCache struct {
	mu        sync.RWMutex
	idToName  map[int]string
	nameToID  map[string]int
	persist   *bolt.DB // nil when Config.NameCachePath is empty
	bucketKey []byte
}

var nameCacheBucket = []byte("collection_names")

func newNameCache(persistPath string) (*nameCache, error) {
	nc := &nameCache{
		idToName: make(map[int]string),
		nameToID: make(map[string]int),
	}
	if persistPath == "" {
		return nc, nil
	}
	db, err := bolt.Open(persistPath, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nameCacheBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	nc.persist = db
	_ = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(nameCacheBucket)
		return b.ForEach(func(k, v []byte) error {
			id := int(binary.BigEndian.Uint32(v))
			name := string(k)
			nc.idToName[id] = name
			nc.nameToID[name] = id
			return nil
		})
	})
	return nc, nil
}

func (nc *nameCache) lookup(name string) (int, bool) {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	id, ok := nc.nameToID[name]
	return id, ok
}

func (nc *nameCache) lookupName(id int) (string, bool) {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	name, ok := nc.idToName[id]
	return name, ok
}

func (nc *nameCache) store(name string, id int) {
	nc.mu.Lock()
	nc.idToName[id] = name
	nc.nameToID[name] = id
	nc.mu.Unlock()

	if nc.persist == nil {
		return
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(id))
	_ = nc.persist.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nameCacheBucket).Put([]byte(name), buf)
	})
}

// invalidateAll drops every in-memory mapping (the bbolt file is left
// as is). No code path in this package calls it.
func (nc *nameCache) invalidateAll() {
	nc.mu.Lock()
	nc.idToName = make(map[int]string)
	nc.nameToID = make(map[string]int)
	nc.mu.Unlock()
}

func (nc *nameCache) Close() error {
	if nc.persist == nil {
		return nil
	}
	return nc.persist.Close()
}
