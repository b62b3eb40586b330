package dispatcher

import (
	"net/http"
	"strconv"
)

// statusRecorder captures the status code a handler wrote, so the tween
// chain can decide after the fact whether to add Retry-After (on any
// 503) without the controller needing to know about dispatcher concerns.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wroteHeader = true
	if status == http.StatusServiceUnavailable {
		addRetryAfter(r.ResponseWriter)
	}
	r.ResponseWriter.WriteHeader(status)
}

// addRetryAfter sets Retry-After to a fuzzed backoff so concurrent
// clients retrying a shed request don't all land on the server at once.
func addRetryAfter(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds()))
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}
