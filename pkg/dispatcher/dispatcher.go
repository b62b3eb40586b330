package dispatcher

import (
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/cuemby/syncstore/pkg/metrics"
	"github.com/cuemby/syncstore/pkg/syncschema"
	"github.com/rs/zerolog"
)

const retryAfterBaseSeconds = 2

// retryAfterSeconds fuzzes the base backoff so a wave of shed clients
// doesn't retry in lockstep.
func retryAfterSeconds() int {
	return retryAfterBaseSeconds + rand.IntN(6)
}

// Options configures the dispatcher's tween chain.
type Options struct {
	Cache           statusReader // nil disables node-status checks entirely
	CheckNodeStatus bool
	Log             zerolog.Logger
}

// Dispatch wraps next (normally a Controller's Router) with the request
// tween chain of spec.md §4.4: reject HEAD, stamp server time, consult
// node status, default Accept, dispatch, then annotate the response.
func Dispatch(next http.Handler, opts Options) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		nowMillis := syncschema.NowMillis()
		w.Header().Set("X-Timestamp", strconv.FormatInt(nowMillis, 10))

		if opts.CheckNodeStatus && opts.Cache != nil {
			status := readNodeStatus(opts.Cache, r.Host)
			switch status.kind {
			case statusDown, statusDraining, statusUnhealthy:
				opts.Log.Warn().Str("status", status.kind).Str("host", r.Host).Msg("node status blocking request")
				metrics.BackoffResponsesTotal.Inc()
				addRetryAfter(w)
				writeServiceUnavailable(w, reasonFor(status.kind))
				return
			case statusBackoff:
				backoff := status.backoffSecs
				if backoff <= 0 {
					backoff = retryAfterBaseSeconds
				}
				w.Header().Set("X-Backoff", strconv.Itoa(backoff))
				metrics.BackoffResponsesTotal.Inc()
			}
		}

		if r.Header.Get("Accept") == "" {
			r.Header.Set("Accept", "application/json, */*;q=0.9")
		}

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.RequestDuration, r.Method)
	})
}

func writeServiceUnavailable(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`{"error":"` + reason + `"}`))
}
