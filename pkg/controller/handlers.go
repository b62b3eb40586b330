package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/syncstore/pkg/storage"
	"github.com/cuemby/syncstore/pkg/syncschema"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Controller wires a storage.Store to the HTTP surface of spec.md §4.3.
type Controller struct {
	store    storage.Store
	log      zerolog.Logger
	useQuota bool
	quotaKB  int64
}

// New builds a Controller. quotaKB is ignored when useQuota is false.
func New(store storage.Store, log zerolog.Logger, useQuota bool, quotaKB int64) *Controller {
	return &Controller{store: store, log: log, useQuota: useQuota, quotaKB: quotaKB}
}

// authorize resolves the path's {u} against the context-verified uid.
// A mismatch (or a missing verified uid, which cannot happen once
// pkg/auth's middleware runs first) is not-authenticated.
func (c *Controller) authorize(w http.ResponseWriter, r *http.Request) (int64, bool) {
	pathUID, err := strconv.ParseInt(mux.Vars(r)["u"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return 0, false
	}
	authUID, ok := UserIDFromContext(r.Context())
	if !ok || authUID != pathUID {
		w.WriteHeader(http.StatusUnauthorized)
		return 0, false
	}
	return authUID, true
}

func (c *Controller) handleInfoCollections(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	timestamps, err := c.store.CollectionTimestamps(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stampMap(timestamps))
}

func (c *Controller) handleInfoCollectionCounts(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	counts, err := c.store.CollectionCounts(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (c *Controller) handleInfoCollectionUsage(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	usage, err := c.store.CollectionUsage(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	// Reported in KB, per the wire contract shared with info/quota.
	kb := make(map[string]float64, len(usage))
	for k, v := range usage {
		kb[k] = float64(v) / 1024
	}
	writeJSON(w, http.StatusOK, kb)
}

func (c *Controller) handleInfoQuota(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	used, err := c.store.StorageSize(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	usedKB := float64(used) / 1024
	resp := []interface{}{usedKB, nil}
	if c.useQuota {
		resp[1] = float64(c.quotaKB)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (c *Controller) handleCollectionGet(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	collection := mux.Vars(r)["c"]

	if ims := r.Header.Get("X-If-Modified-Since"); ims != "" {
		sec, perr := strconv.ParseFloat(ims, 64)
		if perr != nil {
			writeError(w, storage.NewError(storage.KindMalformed, "invalid X-If-Modified-Since"))
			return
		}
		timestamps, err := c.store.CollectionTimestamps(r.Context(), uid)
		if err != nil {
			writeError(w, err)
			return
		}
		if lm, ok := timestamps[collection]; ok && float64(lm) <= sec*1000 {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	encoder, nerr := NegotiateEncoder(r.Header.Get("Accept"))
	if nerr != nil {
		writeError(w, storage.NewError(storage.KindMalformed, "unacceptable response encoding"))
		return
	}

	q, qerr := ParseQuery(r.URL.Query())
	if qerr != nil {
		writeError(w, qerr)
		return
	}

	items, err := c.store.GetItems(r.Context(), uid, collection, q)
	if err != nil {
		writeError(w, err)
		return
	}

	records := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		var raw json.RawMessage
		var merr error
		if q.FullObjects {
			raw, merr = json.Marshal(toWireBSO(item, true))
		} else {
			raw, merr = json.Marshal(item.ID)
		}
		if merr != nil {
			writeError(w, storage.Wrap(merr, "encoding failure"))
			return
		}
		records = append(records, raw)
	}

	w.Header().Set("X-Weave-Records", strconv.Itoa(len(records)))
	w.Header().Set("Content-Type", encoder.ContentType())
	w.WriteHeader(http.StatusOK)
	_ = encoder.EncodeList(w, records)
}

func (c *Controller) handleItemGet(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	item, err := c.store.GetItem(r.Context(), uid, vars["c"], vars["i"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireBSO(*item, true))
}

func (c *Controller) unmodifiedSinceMillis(r *http.Request) (*int64, *storage.Error) {
	h := r.Header.Get("X-If-Unmodified-Since")
	if h == "" {
		return nil, nil
	}
	sec, err := strconv.ParseFloat(h, 64)
	if err != nil {
		return nil, storage.NewError(storage.KindMalformed, "invalid X-If-Unmodified-Since")
	}
	ms := int64(sec * 1000)
	return &ms, nil
}

func (c *Controller) setQuotaRemainingHeader(w http.ResponseWriter, r *http.Request, uid int64) {
	if !c.useQuota {
		return
	}
	used, err := c.store.StorageSize(r.Context(), uid)
	if err != nil {
		return
	}
	remaining := c.quotaKB*1024 - used
	if remaining <= 1024 {
		w.Header().Set("X-Weave-Quota-Remaining", strconv.FormatInt(remaining, 10))
	}
}

func (c *Controller) handleItemPut(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	var bso syncschema.BSO
	if err := json.NewDecoder(r.Body).Decode(&bso); err != nil {
		writeError(w, storage.NewError(storage.KindMalformed, "malformed json body"))
		return
	}
	if bso.ID == "" {
		bso.ID = vars["i"]
	}
	if bso.ID != vars["i"] {
		writeError(w, storage.NewError(storage.KindInvalidBSO, "id mismatch between path and body"))
		return
	}

	item, verr := ValidateBSO(bso)
	if verr != nil {
		writeError(w, verr)
		return
	}

	unmodifiedSince, uerr := c.unmodifiedSinceMillis(r)
	if uerr != nil {
		writeError(w, uerr)
		return
	}

	modified, err := c.store.PutItem(r.Context(), uid, vars["c"], item, unmodifiedSince)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Last-Modified", strconv.FormatInt(modified, 10))
	c.setQuotaRemainingHeader(w, r, uid)
	writeJSON(w, http.StatusOK, modified)
}

func (c *Controller) handleItemDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	unmodifiedSince, uerr := c.unmodifiedSinceMillis(r)
	if uerr != nil {
		writeError(w, uerr)
		return
	}

	modified, err := c.store.DeleteItem(r.Context(), uid, vars["c"], vars["i"], unmodifiedSince)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Last-Modified", strconv.FormatInt(modified, 10))
	writeJSON(w, http.StatusOK, modified)
}

// handleCollectionPost handles a bulk upsert (set_items) as well as the
// batch-upload workflow (create/append/commit), selected by the batch
// query parameter: absent means a plain bulk upsert; "true" starts a new
// batch; a numeric value appends to (and, with commit=true, commits) an
// existing one.
func (c *Controller) handleCollectionPost(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	collection := mux.Vars(r)["c"]

	var bsos []syncschema.BSO
	if err := json.NewDecoder(r.Body).Decode(&bsos); err != nil {
		writeError(w, storage.NewError(storage.KindMalformed, "malformed json body"))
		return
	}
	items, invalid := ValidateBatch(bsos)

	unmodifiedSince, uerr := c.unmodifiedSinceMillis(r)
	if uerr != nil {
		writeError(w, uerr)
		return
	}

	batchParam := r.URL.Query().Get("batch")
	commit := r.URL.Query().Get("commit") == "true"

	var results storage.PostResults
	var err error

	switch {
	case batchParam == "":
		results, err = c.store.PutItems(r.Context(), uid, collection, items, unmodifiedSince)
	case batchParam == "true":
		var batchID int64
		batchID, err = c.store.CreateBatch(r.Context(), uid, collection)
		if err == nil {
			results, err = c.store.AppendBatch(r.Context(), uid, collection, batchID, items)
			results.BatchID = &batchID
			if commit {
				var modified int64
				modified, err = c.store.CommitBatch(r.Context(), uid, collection, batchID)
				if err == nil {
					results.Modified = modified
					results.BatchID = nil
				}
			}
		}
	default:
		var batchID int64
		batchID, err = strconv.ParseInt(batchParam, 10, 64)
		if err != nil {
			writeError(w, storage.NewError(storage.KindMalformed, "invalid batch id"))
			return
		}
		results, err = c.store.AppendBatch(r.Context(), uid, collection, batchID, items)
		if err == nil && commit {
			var modified int64
			modified, err = c.store.CommitBatch(r.Context(), uid, collection, batchID)
			if err == nil {
				results.Modified = modified
			}
		} else if err == nil {
			results.BatchID = &batchID
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if results.Failed == nil {
		results.Failed = make(map[string]string)
	}
	for id, reason := range invalid {
		results.Failed[id] = reason
	}

	if results.Modified > 0 {
		w.Header().Set("X-Last-Modified", strconv.FormatInt(results.Modified, 10))
	}
	c.setQuotaRemainingHeader(w, r, uid)
	writeJSON(w, http.StatusOK, toWirePostResults(results))
}

func (c *Controller) handleCollectionDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	collection := mux.Vars(r)["c"]

	unmodifiedSince, uerr := c.unmodifiedSinceMillis(r)
	if uerr != nil {
		writeError(w, uerr)
		return
	}

	values := r.URL.Query()
	var modified int64
	var err error
	if hasFilterParams(values) {
		q, qerr := ParseQuery(values)
		if qerr != nil {
			writeError(w, qerr)
			return
		}
		modified, err = c.store.DeleteItems(r.Context(), uid, collection, q, unmodifiedSince)
	} else {
		modified, err = c.store.DeleteCollection(r.Context(), uid, collection)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Last-Modified", strconv.FormatInt(modified, 10))
	writeJSON(w, http.StatusOK, modified)
}

func (c *Controller) handleStorageDelete(w http.ResponseWriter, r *http.Request) {
	uid, ok := c.authorize(w, r)
	if !ok {
		return
	}
	if r.Header.Get("X-Confirm-Delete") == "" {
		writeError(w, storage.NewError(storage.KindInvalidWrite, "X-Confirm-Delete header required"))
		return
	}
	if err := c.store.DeleteStorage(r.Context(), uid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
