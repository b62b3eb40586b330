package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
)

var errBadBasicAuth = errors.New("invalid basic auth credentials")

// BasicVerifier implements the legacy-mode fallback of spec.md §6: a
// plain HTTP Basic credential, username the uid and password one of a
// fixed set of per-uid shared secrets. It never produces an expired
// principal; legacy credentials don't carry an expiry.
type BasicVerifier struct {
	// Passwords maps uid (as a string) to its accepted legacy password.
	Passwords map[string]string
}

func (v *BasicVerifier) Verify(r *http.Request) (Result, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return Result{}, errNoAuthHeader
	}
	want, ok := v.Passwords[username]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return Result{}, errBadBasicAuth
	}
	uid, err := strconv.ParseInt(username, 10, 64)
	if err != nil {
		return Result{}, errBadBasicAuth
	}
	return Result{UserID: uid, Principal: strconv.FormatInt(uid, 10)}, nil
}
