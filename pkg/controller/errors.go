package controller

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/syncstore/pkg/storage"
)

// StatusForKind maps a storage error kind onto the HTTP status table of
// spec.md §7.
func StatusForKind(k storage.Kind) int {
	switch k {
	case storage.KindMalformed, storage.KindInvalidBSO, storage.KindInvalidWrite, storage.KindOverQuota:
		return http.StatusBadRequest
	case storage.KindNotAuthenticated:
		return http.StatusUnauthorized
	case storage.KindNotFound:
		return http.StatusNotFound
	case storage.KindConflict:
		return http.StatusPreconditionFailed
	case storage.KindNotModified:
		return http.StatusNotModified
	case storage.KindOverCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the HTTP response spec.md §7 describes for
// its kind. A 304/412 carries no body; every other error kind carries a
// small JSON object naming the kind.
func writeError(w http.ResponseWriter, err error) {
	se := storage.AsError(err)
	if se == nil {
		se = storage.Wrap(err, "unexpected error")
	}
	status := StatusForKind(se.Kind)
	if status == http.StatusNotModified || status == http.StatusPreconditionFailed {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]string{"error": string(se.Kind)})
	_, _ = w.Write(body)
}
