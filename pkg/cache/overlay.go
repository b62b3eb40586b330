package cache

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/cuemby/syncstore/pkg/metrics"
	"github.com/cuemby/syncstore/pkg/storage"
	"github.com/cuemby/syncstore/pkg/syncschema"
	"github.com/rs/zerolog"
)

const (
	collMetaGlobal = "meta/global"
	collTabs       = "tabs"

	metaGlobalItemID = "global"

	// metaGlobalTTLSeconds bounds how long a cached meta/global blob is
	// trusted before a miss forces a fresh SQL read; SQL remains the
	// source of truth so this is purely a staleness ceiling, not a
	// correctness requirement.
	metaGlobalTTLSeconds = 300
)

// Overlay implements storage.Store in front of another storage.Store,
// intercepting meta/global and tabs. The controller holds only a
// storage.Store and never knows which implementation it has (spec.md §9,
// mirrored from the teacher's single-interface-swappable-backend shape in
// pkg/storage/store.go).
type Overlay struct {
	next storage.Store
	mc   *Client
	log  zerolog.Logger
}

// NewOverlay builds an Overlay over next using mc for the hot-collection cache.
func NewOverlay(next storage.Store, mc *Client, log zerolog.Logger) *Overlay {
	return &Overlay{next: next, mc: mc, log: log}
}

func (o *Overlay) CollectionTimestamps(ctx context.Context, uid int64) (map[string]int64, error) {
	ts, err := o.next.CollectionTimestamps(ctx, uid)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		ts = make(map[string]int64)
	}
	if stamp, ok, err := o.tabsStamp(uid); err != nil {
		return nil, err
	} else if ok {
		ts[collTabs] = stamp
	}
	return ts, nil
}

func (o *Overlay) CollectionCounts(ctx context.Context, uid int64) (map[string]int, error) {
	counts, err := o.next.CollectionCounts(ctx, uid)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = make(map[string]int)
	}
	ids, err := o.tabsLiveIDs(uid)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		counts[collTabs] = len(ids)
	}
	return counts, nil
}

func (o *Overlay) CollectionUsage(ctx context.Context, uid int64) (map[string]int64, error) {
	usage, err := o.next.CollectionUsage(ctx, uid)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		usage = make(map[string]int64)
	}
	ids, err := o.tabsLiveIDs(uid)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, id := range ids {
		n, err := o.tabsSize(uid, id)
		if err != nil {
			return nil, err
		}
		total += n
	}
	if total > 0 {
		usage[collTabs] = total
	}
	return usage, nil
}

func (o *Overlay) StorageSize(ctx context.Context, uid int64) (int64, error) {
	size, err := o.next.StorageSize(ctx, uid)
	if err != nil {
		return 0, err
	}
	ids, err := o.tabsLiveIDs(uid)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		n, err := o.tabsSize(uid, id)
		if err != nil {
			return 0, err
		}
		size += n
	}
	return size, nil
}

func (o *Overlay) GetItems(ctx context.Context, uid int64, collection string, q storage.Query) (storage.BSOList, error) {
	switch collection {
	case collTabs:
		return o.tabsGetItems(uid, q)
	case collMetaGlobal:
		return o.metaGlobalGetItems(ctx, uid, q)
	default:
		return o.next.GetItems(ctx, uid, collection, q)
	}
}

func (o *Overlay) GetItem(ctx context.Context, uid int64, collection, id string) (*storage.ReadBSO, error) {
	switch collection {
	case collTabs:
		item, err := o.tabsGetItem(uid, id)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, storage.NotFound("item")
		}
		return item, nil
	case collMetaGlobal:
		return o.metaGlobalGetItem(ctx, uid, id)
	default:
		return o.next.GetItem(ctx, uid, collection, id)
	}
}

func (o *Overlay) PutItem(ctx context.Context, uid int64, collection string, item storage.Item, unmodifiedSince *int64) (int64, error) {
	switch collection {
	case collTabs:
		return o.tabsPutItem(uid, item, unmodifiedSince)
	case collMetaGlobal:
		modified, err := o.next.PutItem(ctx, uid, collection, item, unmodifiedSince)
		if err != nil {
			return 0, err
		}
		o.refreshMetaGlobal(ctx, uid)
		return modified, nil
	default:
		return o.next.PutItem(ctx, uid, collection, item, unmodifiedSince)
	}
}

func (o *Overlay) PutItems(ctx context.Context, uid int64, collection string, items []storage.Item, unmodifiedSince *int64) (storage.PostResults, error) {
	switch collection {
	case collTabs:
		return o.tabsPutItems(uid, items, unmodifiedSince)
	case collMetaGlobal:
		results, err := o.next.PutItems(ctx, uid, collection, items, unmodifiedSince)
		if err != nil {
			return storage.PostResults{}, err
		}
		o.refreshMetaGlobal(ctx, uid)
		return results, nil
	default:
		return o.next.PutItems(ctx, uid, collection, items, unmodifiedSince)
	}
}

func (o *Overlay) DeleteItem(ctx context.Context, uid int64, collection, id string, unmodifiedSince *int64) (int64, error) {
	switch collection {
	case collTabs:
		return o.tabsDeleteItem(uid, id, unmodifiedSince)
	case collMetaGlobal:
		modified, err := o.next.DeleteItem(ctx, uid, collection, id, unmodifiedSince)
		if err != nil {
			return 0, err
		}
		_ = o.mc.Delete(metaGlobalKey(uid))
		return modified, nil
	default:
		return o.next.DeleteItem(ctx, uid, collection, id, unmodifiedSince)
	}
}

func (o *Overlay) DeleteItems(ctx context.Context, uid int64, collection string, q storage.Query, unmodifiedSince *int64) (int64, error) {
	switch collection {
	case collTabs:
		return o.tabsDeleteItems(uid, q, unmodifiedSince)
	case collMetaGlobal:
		modified, err := o.next.DeleteItems(ctx, uid, collection, q, unmodifiedSince)
		if err != nil {
			return 0, err
		}
		_ = o.mc.Delete(metaGlobalKey(uid))
		return modified, nil
	default:
		return o.next.DeleteItems(ctx, uid, collection, q, unmodifiedSince)
	}
}

func (o *Overlay) DeleteCollection(ctx context.Context, uid int64, collection string) (int64, error) {
	switch collection {
	case collTabs:
		return o.tabsDeleteAll(uid)
	case collMetaGlobal:
		modified, err := o.next.DeleteCollection(ctx, uid, collection)
		if err != nil {
			return 0, err
		}
		_ = o.mc.Delete(metaGlobalKey(uid))
		return modified, nil
	default:
		return o.next.DeleteCollection(ctx, uid, collection)
	}
}

func (o *Overlay) DeleteStorage(ctx context.Context, uid int64) error {
	if err := o.next.DeleteStorage(ctx, uid); err != nil {
		return err
	}
	_ = o.mc.Delete(metaGlobalKey(uid))
	_, _ = o.tabsDeleteAll(uid)
	return nil
}

// Batch uploads are never issued against meta/global or tabs by any
// client in practice (both are single-small-item collections); neither
// spec.md nor its expansion describes a cache-authoritative batch path,
// so batch operations always delegate straight through to the wrapped
// store regardless of collection name.
func (o *Overlay) CreateBatch(ctx context.Context, uid int64, collection string) (int64, error) {
	return o.next.CreateBatch(ctx, uid, collection)
}

func (o *Overlay) AppendBatch(ctx context.Context, uid int64, collection string, batchID int64, items []storage.Item) (storage.PostResults, error) {
	return o.next.AppendBatch(ctx, uid, collection, batchID, items)
}

func (o *Overlay) CommitBatch(ctx context.Context, uid int64, collection string, batchID int64) (int64, error) {
	modified, err := o.next.CommitBatch(ctx, uid, collection, batchID)
	if err != nil {
		return 0, err
	}
	if collection == collMetaGlobal {
		o.refreshMetaGlobal(ctx, uid)
	}
	return modified, nil
}

func (o *Overlay) CloseBatch(ctx context.Context, uid int64, collection string, batchID int64) error {
	return o.next.CloseBatch(ctx, uid, collection, batchID)
}

func (o *Overlay) Close() error {
	return o.next.Close()
}

// refreshMetaGlobal re-reads the authoritative row from SQL and repopulates
// the cache; invoked after any write so the next read sees current data
// instead of serving stale cache until the next TTL expiry.
func (o *Overlay) refreshMetaGlobal(ctx context.Context, uid int64) {
	item, err := o.next.GetItem(ctx, uid, collMetaGlobal, metaGlobalItemID)
	if err != nil {
		_ = o.mc.Delete(metaGlobalKey(uid))
		return
	}
	o.cacheMetaGlobal(uid, *item)
}

func (o *Overlay) cacheMetaGlobal(uid int64, item storage.ReadBSO) {
	blob, err := json.Marshal(item)
	if err != nil {
		o.log.Warn().Err(err).Msg("marshal meta/global for cache")
		return
	}
	_ = o.mc.Set(metaGlobalKey(uid), blob, metaGlobalTTLSeconds)
}

func (o *Overlay) metaGlobalGetItem(ctx context.Context, uid int64, id string) (*storage.ReadBSO, error) {
	if id != metaGlobalItemID {
		return nil, storage.NotFound("item")
	}
	if val, hit, err := o.mc.Get(metaGlobalKey(uid)); err == nil && hit {
		var item storage.ReadBSO
		if jsonErr := json.Unmarshal(val, &item); jsonErr == nil {
			metrics.CacheHitsTotal.WithLabelValues(collMetaGlobal).Inc()
			return &item, nil
		}
	}
	metrics.CacheMissesTotal.WithLabelValues(collMetaGlobal).Inc()
	item, err := o.next.GetItem(ctx, uid, collMetaGlobal, id)
	if err != nil {
		return nil, err
	}
	o.cacheMetaGlobal(uid, *item)
	return item, nil
}

func (o *Overlay) metaGlobalGetItems(ctx context.Context, uid int64, q storage.Query) (storage.BSOList, error) {
	item, err := o.metaGlobalGetItem(ctx, uid, metaGlobalItemID)
	se := storage.AsError(err)
	switch {
	case se != nil && se.Kind == storage.KindNotFound:
		return storage.BSOList{}, nil
	case err != nil:
		return nil, err
	}
	return applyQuery(storage.BSOList{*item}, q), nil
}

// tabsStamp returns the collection's last-modified timestamp (ms), or
// (0, false, nil) if the collection has never been written.
func (o *Overlay) tabsStamp(uid int64) (int64, bool, error) {
	val, hit, err := o.mc.Get(tabsStampKey(uid))
	if err != nil {
		return 0, false, storage.Wrap(err, "tabs cache unavailable")
	}
	if !hit {
		return 0, false, nil
	}
	n, parseErr := strconv.ParseInt(string(val), 10, 64)
	if parseErr != nil {
		return 0, false, storage.Wrap(parseErr, "corrupt tabs stamp")
	}
	return n, true, nil
}

func (o *Overlay) setTabsStamp(uid int64, stamp int64, expiry int32) error {
	return o.mc.Set(tabsStampKey(uid), []byte(strconv.FormatInt(stamp, 10)), expiry)
}

func (o *Overlay) tabsIDs(uid int64) ([]string, error) {
	val, hit, err := o.mc.Get(tabsSetKey(uid))
	if err != nil {
		return nil, storage.Wrap(err, "tabs cache unavailable")
	}
	if !hit {
		return nil, nil
	}
	var ids []string
	if jsonErr := json.Unmarshal(val, &ids); jsonErr != nil {
		return nil, storage.Wrap(jsonErr, "corrupt tabs id set")
	}
	return ids, nil
}

// tabsLiveIDs is tabsIDs filtered down to items that have not yet crossed
// their TTL, the cache-resident equivalent of sqlstore's "(ttl * 1000) >=
// now" WHERE clause (pkg/storage/sqlstore.go CollectionCounts et al).
func (o *Overlay) tabsLiveIDs(uid int64) ([]string, error) {
	ids, err := o.tabsIDs(uid)
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		item, err := o.tabsGetItem(uid, id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			live = append(live, id)
		}
	}
	return live, nil
}

func (o *Overlay) setTabsIDs(uid int64, ids []string, expiry int32) error {
	blob, err := json.Marshal(ids)
	if err != nil {
		return storage.Wrap(err, "marshal tabs id set")
	}
	return o.mc.Set(tabsSetKey(uid), blob, expiry)
}

// maxTabsExpiry looks up each id's cached item and returns the memcache
// Expiration that keeps the id-set/stamp keys alive at least as long as
// the longest-lived item they describe. An empty or all-miss id list
// falls back to tabsDefaultTTLSeconds so the accounting keys still expire
// eventually instead of reverting to never-expire.
func (o *Overlay) maxTabsExpiry(uid int64, ids []string) int64 {
	max := syncschema.NowMillis()/1000 + tabsDefaultTTLSeconds
	for _, id := range ids {
		item, err := o.tabsGetItem(uid, id)
		if err != nil || item == nil {
			continue
		}
		if item.TTL > max {
			max = item.TTL
		}
	}
	return max
}

func (o *Overlay) tabsSize(uid int64, id string) (int64, error) {
	val, hit, err := o.mc.Get(tabsSizeKey(uid, id))
	if err != nil {
		return 0, storage.Wrap(err, "tabs cache unavailable")
	}
	if !hit {
		return 0, nil
	}
	n, parseErr := strconv.ParseInt(string(val), 10, 64)
	if parseErr != nil {
		return 0, storage.Wrap(parseErr, "corrupt tabs size")
	}
	return n, nil
}

func (o *Overlay) tabsGetItem(uid int64, id string) (*storage.ReadBSO, error) {
	val, hit, err := o.mc.Get(tabsItemKey(uid, id))
	if err != nil {
		return nil, storage.Wrap(err, "tabs cache unavailable")
	}
	if !hit {
		return nil, nil
	}
	var item storage.ReadBSO
	if jsonErr := json.Unmarshal(val, &item); jsonErr != nil {
		return nil, storage.Wrap(jsonErr, "corrupt tabs item")
	}
	// item.TTL is an absolute unix-seconds expiry (set in mergeTabsItem),
	// so syncschema.Expired with a zero "modified" collapses to exactly
	// that comparison. The memcache entry's own expiry is only a ceiling;
	// this is the authoritative liveness check, same role as sqlstore's
	// "(ttl * 1000) >= now" filter.
	if syncschema.Expired(0, item.TTL, syncschema.NowMillis()) {
		_ = o.mc.Delete(tabsItemKey(uid, id))
		_ = o.mc.Delete(tabsSizeKey(uid, id))
		return nil, nil
	}
	return &item, nil
}

func (o *Overlay) tabsGetItems(uid int64, q storage.Query) (storage.BSOList, error) {
	ids, err := o.tabsIDs(uid)
	if err != nil {
		return nil, err
	}
	var out storage.BSOList
	for _, id := range ids {
		item, err := o.tabsGetItem(uid, id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			out = append(out, *item)
		}
	}
	return applyQuery(out, q), nil
}

func (o *Overlay) tabsPutItem(uid int64, item storage.Item, unmodifiedSince *int64) (int64, error) {
	results, err := o.tabsPutItems(uid, []storage.Item{item}, unmodifiedSince)
	if err != nil {
		return 0, err
	}
	if reason, failed := results.Failed[item.ID]; failed {
		return 0, storage.NewError(storage.KindInvalidWrite, reason)
	}
	return results.Modified, nil
}

func (o *Overlay) tabsPutItems(uid int64, items []storage.Item, unmodifiedSince *int64) (storage.PostResults, error) {
	prior, _, err := o.tabsStamp(uid)
	if err != nil {
		return storage.PostResults{}, err
	}
	if unmodifiedSince != nil && prior > *unmodifiedSince {
		return storage.PostResults{}, storage.NewError(storage.KindConflict, "collection modified since precondition")
	}

	ids, err := o.tabsIDs(uid)
	if err != nil {
		return storage.PostResults{}, err
	}
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	newTS := nextTabsTimestamp(prior)
	results := storage.NewPostResults(newTS)
	wrote := false
	for _, item := range items {
		existing, err := o.tabsGetItem(uid, item.ID)
		if err != nil {
			return storage.PostResults{}, err
		}
		merged := mergeTabsItem(existing, item, newTS)
		blob, jsonErr := json.Marshal(merged)
		if jsonErr != nil {
			results.Failed[item.ID] = jsonErr.Error()
			continue
		}
		expiry := tabsCacheExpiry(merged.TTL)
		if setErr := o.mc.Set(tabsItemKey(uid, item.ID), blob, expiry); setErr != nil {
			results.Failed[item.ID] = "cache unavailable"
			continue
		}
		_ = o.mc.Set(tabsSizeKey(uid, item.ID), []byte(strconv.Itoa(merged.PayloadSize)), expiry)
		idSet[item.ID] = true
		results.Success = append(results.Success, item.ID)
		wrote = true
	}
	if wrote {
		newIDs := make([]string, 0, len(idSet))
		for id := range idSet {
			newIDs = append(newIDs, id)
		}
		sort.Strings(newIDs)
		setExpiry := tabsCacheExpiry(o.maxTabsExpiry(uid, newIDs))
		if err := o.setTabsIDs(uid, newIDs, setExpiry); err != nil {
			return storage.PostResults{}, err
		}
		if err := o.setTabsStamp(uid, newTS, setExpiry); err != nil {
			return storage.PostResults{}, err
		}
	}
	return results, nil
}

func mergeTabsItem(existing *storage.ReadBSO, item storage.Item, modified int64) storage.ReadBSO {
	out := storage.ReadBSO{ID: item.ID, Modified: modified}
	if existing != nil {
		out = *existing
		out.ID = item.ID
		out.Modified = modified
	}
	if item.Payload != nil {
		out.Payload = *item.Payload
		out.PayloadSize = len(*item.Payload)
	}
	if item.SortIndex != nil {
		out.SortIndex = item.SortIndex
	}
	if item.TTL != nil {
		out.TTL = modified/1000 + *item.TTL
	} else if out.TTL == 0 {
		out.TTL = modified/1000 + tabsDefaultTTLSeconds
	}
	if item.ParentID != nil {
		out.ParentID = item.ParentID
	}
	if item.PredecessorID != nil {
		out.PredecessorID = item.PredecessorID
	}
	return out
}

// tabsDefaultTTLSeconds mirrors a device's typical tab-sync cadence
// rather than syncschema's "forever" default — a tab list with no ttl
// still needs to eventually fall out of an ephemeral cache.
const tabsDefaultTTLSeconds = 21 * 24 * 3600

// memcacheRelativeCeiling is the memcache wire protocol's boundary
// (30 days) between a relative seconds-from-now expiry and an absolute
// unix timestamp.
const memcacheRelativeCeiling = 60 * 60 * 24 * 30

// tabsCacheExpiry converts an absolute unix-seconds TTL (as stored on
// storage.ReadBSO.TTL by mergeTabsItem) into the Expiration value
// memcache's Set expects: seconds-from-now when that's under the
// protocol's 30-day relative/absolute boundary, or the timestamp itself
// once it's past that boundary, since memcache already treats any
// Expiration above the boundary as a unix timestamp. tabsGetItem's
// liveness check is authoritative regardless of which branch fires here.
func tabsCacheExpiry(absoluteTTLSeconds int64) int32 {
	now := syncschema.NowMillis() / 1000
	remaining := absoluteTTLSeconds - now
	if remaining <= 0 {
		return 1
	}
	if remaining > memcacheRelativeCeiling {
		if absoluteTTLSeconds > math.MaxInt32 {
			return math.MaxInt32
		}
		return int32(absoluteTTLSeconds)
	}
	return int32(remaining)
}

func (o *Overlay) tabsDeleteItem(uid int64, id string, unmodifiedSince *int64) (int64, error) {
	prior, _, err := o.tabsStamp(uid)
	if err != nil {
		return 0, err
	}
	if unmodifiedSince != nil && prior > *unmodifiedSince {
		return 0, storage.NewError(storage.KindConflict, "collection modified since precondition")
	}
	existing, err := o.tabsGetItem(uid, id)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, storage.NotFound("item")
	}
	_ = o.mc.Delete(tabsItemKey(uid, id))
	_ = o.mc.Delete(tabsSizeKey(uid, id))

	ids, err := o.tabsIDs(uid)
	if err != nil {
		return 0, err
	}
	remaining := ids[:0]
	for _, existingID := range ids {
		if existingID != id {
			remaining = append(remaining, existingID)
		}
	}
	expiry := tabsCacheExpiry(o.maxTabsExpiry(uid, remaining))
	if err := o.setTabsIDs(uid, remaining, expiry); err != nil {
		return 0, err
	}
	newTS := nextTabsTimestamp(prior)
	if err := o.setTabsStamp(uid, newTS, expiry); err != nil {
		return 0, err
	}
	return newTS, nil
}

func (o *Overlay) tabsDeleteItems(uid int64, q storage.Query, unmodifiedSince *int64) (int64, error) {
	prior, _, err := o.tabsStamp(uid)
	if err != nil {
		return 0, err
	}
	if unmodifiedSince != nil && prior > *unmodifiedSince {
		return 0, storage.NewError(storage.KindConflict, "collection modified since precondition")
	}
	matches, err := o.tabsGetItems(uid, q)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return prior, nil
	}
	toDelete := make(map[string]bool, len(matches))
	for _, m := range matches {
		toDelete[m.ID] = true
		_ = o.mc.Delete(tabsItemKey(uid, m.ID))
		_ = o.mc.Delete(tabsSizeKey(uid, m.ID))
	}
	ids, err := o.tabsIDs(uid)
	if err != nil {
		return 0, err
	}
	remaining := ids[:0]
	for _, id := range ids {
		if !toDelete[id] {
			remaining = append(remaining, id)
		}
	}
	expiry := tabsCacheExpiry(o.maxTabsExpiry(uid, remaining))
	if err := o.setTabsIDs(uid, remaining, expiry); err != nil {
		return 0, err
	}
	newTS := nextTabsTimestamp(prior)
	if err := o.setTabsStamp(uid, newTS, expiry); err != nil {
		return 0, err
	}
	return newTS, nil
}

func (o *Overlay) tabsDeleteAll(uid int64) (int64, error) {
	ids, err := o.tabsIDs(uid)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		_ = o.mc.Delete(tabsItemKey(uid, id))
		_ = o.mc.Delete(tabsSizeKey(uid, id))
	}
	_ = o.mc.Delete(tabsSetKey(uid))
	_ = o.mc.Delete(tabsStampKey(uid))
	return 0, nil
}

// applyQuery filters/sorts/pages an in-memory BSOList the same way
// pkg/storage's whereClause filters a SQL result set, for the cached
// collections that have no SQL rows to filter.
func applyQuery(list storage.BSOList, q storage.Query) storage.BSOList {
	var idSet map[string]bool
	if len(q.IDs) > 0 {
		idSet = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			idSet[id] = true
		}
	}

	out := make(storage.BSOList, 0, len(list))
	for _, item := range list {
		if idSet != nil && !idSet[item.ID] {
			continue
		}
		if q.Older != nil && !(item.Modified < int64(*q.Older*1000)) {
			continue
		}
		if q.Newer != nil && !(item.Modified > int64(*q.Newer*1000)) {
			continue
		}
		if q.IndexAbove != nil && (item.SortIndex == nil || !(*item.SortIndex > *q.IndexAbove)) {
			continue
		}
		if q.IndexBelow != nil && (item.SortIndex == nil || !(*item.SortIndex < *q.IndexBelow)) {
			continue
		}
		out = append(out, item)
	}

	switch q.Sort {
	case storage.SortOldest:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Modified != out[j].Modified {
				return out[i].Modified < out[j].Modified
			}
			return out[i].ID < out[j].ID
		})
	case storage.SortNewest:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Modified != out[j].Modified {
				return out[i].Modified > out[j].Modified
			}
			return out[i].ID < out[j].ID
		})
	case storage.SortIndex:
		sort.SliceStable(out, func(i, j int) bool {
			vi, vj := int64(0), int64(0)
			if out[i].SortIndex != nil {
				vi = *out[i].SortIndex
			}
			if out[j].SortIndex != nil {
				vj = *out[j].SortIndex
			}
			if vi != vj {
				return vi > vj
			}
			return out[i].ID < out[j].ID
		})
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	if q.Limit > 0 {
		start := q.Offset
		if start > len(out) {
			start = len(out)
		}
		end := start + q.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out
}

// nextTabsTimestamp mirrors pkg/storage's monotonic-per-collection clock
// (storage.nextTimestamp is unexported; tabs needs the identical
// invariant since it is a collection like any other from a client's
// point of view, just cache-resident instead of SQL-resident).
func nextTabsTimestamp(prior int64) int64 {
	now := syncschema.NowMillis()
	if now <= prior {
		return prior + 1
	}
	return now
}
