package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cuemby/syncstore/pkg/controller"
	"github.com/cuemby/syncstore/pkg/metrics"
	"github.com/rs/zerolog"
)

// Chain picks Hawk or legacy Basic auth by the Authorization scheme and
// dispatches to whichever Verifier applies.
type Chain struct {
	Hawk  *HawkVerifier
	Basic *BasicVerifier
	Log   zerolog.Logger
}

func (c *Chain) Verify(r *http.Request) (Result, error) {
	header := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(header, "Basic ") && c.Basic != nil:
		return c.Basic.Verify(r)
	default:
		if c.Hawk == nil {
			return Result{}, errNoAuthHeader
		}
		return c.Hawk.Verify(r)
	}
}

// Middleware authenticates every request with v, rejects mutating
// methods from an expired principal (read-only degraded access per
// spec.md §4.5), and attaches the verified uid to the request context
// via controller.WithUserID before calling next.
func Middleware(v Verifier, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := v.Verify(r)
			if err != nil {
				metrics.AuthFailuresTotal.WithLabelValues(reasonFor(err)).Inc()
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
				writeUnauthorized(w)
				return
			}
			if result.Expired {
				metrics.AuthExpiredTokensTotal.Inc()
				if !isReadOnly(r.Method) {
					writeUnauthorized(w)
					return
				}
			}
			ctx := controller.WithUserID(r.Context(), result.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func reasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errNoAuthHeader):
		return "missing-header"
	case errors.Is(err, errBadHawkHeader):
		return "malformed-header"
	case errors.Is(err, errBadMAC):
		return "mac-mismatch"
	case errors.Is(err, errClockSkew):
		return "clock-skew"
	case errors.Is(err, errNodeMismatch):
		return "node-mismatch"
	case errors.Is(err, errBadBasicAuth):
		return "bad-basic-auth"
	default:
		return "invalid-token"
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Hawk`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	body, _ := json.Marshal(map[string]string{"error": "not-authenticated"})
	_, _ = w.Write(body)
}
