package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/syncstore/pkg/syncschema"
)

var (
	errNoAuthHeader  = errors.New("missing Authorization header")
	errBadHawkHeader = errors.New("malformed Hawk header")
	errBadMAC        = errors.New("mac mismatch")
	errClockSkew     = errors.New("timestamp outside allowed clock skew")
	errNodeMismatch  = errors.New("incorrect node for this token")
)

// DefaultExpiredTokenTimeout is spec.md §6's auth.expired_token_timeout
// default: a token up to two hours past its nominal expiry still grants
// degraded access.
const DefaultExpiredTokenTimeout = 2 * time.Hour

// DefaultClockSkew is spec.md §4.5's tolerated client/server clock drift.
const DefaultClockSkew = 60 * time.Second

// Verifier authenticates a request and reports the principal that
// issued it, per spec.md §4.5.
type Verifier interface {
	Verify(r *http.Request) (Result, error)
}

// Result is the authentication adapter's output tuple.
type Result struct {
	UserID     int64
	NodeName   string
	RequestKey []byte
	Principal  string // "<uid>" or "expired:<uid>"
	Expired    bool
	FxAUID     string
	DeviceID   string
}

// HawkVerifier validates the Hawk envelope of spec.md §4.5 against a set
// of rotating shared secrets.
type HawkVerifier struct {
	Secrets             [][]byte
	ExpiredTokenTimeout time.Duration
	ClockSkew           time.Duration
}

// NewHawkVerifier builds a verifier over secrets with the spec defaults.
func NewHawkVerifier(secrets [][]byte) *HawkVerifier {
	return &HawkVerifier{
		Secrets:             secrets,
		ExpiredTokenTimeout: DefaultExpiredTokenTimeout,
		ClockSkew:           DefaultClockSkew,
	}
}

type hawkParams struct {
	id    string
	ts    int64
	nonce string
	mac   []byte
	hash  string
	ext   string
}

func (v *HawkVerifier) Verify(r *http.Request) (Result, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Result{}, errNoAuthHeader
	}
	params, err := parseHawkHeader(header)
	if err != nil {
		return Result{}, err
	}

	nowSeconds := syncschema.NowMillis() / 1000
	data, secret, expired, err := v.resolveToken(params.id, nowSeconds)
	if err != nil {
		return Result{}, err
	}
	if data.Node != r.Host {
		return Result{}, fmt.Errorf("%w: %s", errNodeMismatch, data.Node)
	}

	requestKey := derivedRequestKey(secret, params.id)
	if err := verifyHawkMAC(r, params, requestKey); err != nil {
		return Result{}, err
	}
	if skew := nowSeconds - params.ts; skew > int64(v.ClockSkew.Seconds()) || skew < -int64(v.ClockSkew.Seconds()) {
		return Result{}, errClockSkew
	}

	principal := strconv.FormatInt(data.UID, 10)
	if expired {
		principal = "expired:" + principal
	}
	return Result{
		UserID:     data.UID,
		NodeName:   data.Node,
		RequestKey: requestKey,
		Principal:  principal,
		Expired:    expired,
		FxAUID:     data.FxAUID,
		DeviceID:   data.DeviceID,
	}, nil
}

// resolveToken tries tokenID against every configured secret, in order,
// the way the upstream policy tries multiple rotating secrets before
// giving up. A token whose signature checks out but whose nominal
// expiry has passed gets one more try against an earlier instant, per
// the expired-token grace window.
func (v *HawkVerifier) resolveToken(tokenID string, nowSeconds int64) (tokenData, []byte, bool, error) {
	var lastErr error = errInvalidSignature
	for _, secret := range v.Secrets {
		data, err := parseToken(secret, tokenID, nowSeconds)
		if err == nil {
			return data, secret, false, nil
		}
		if errors.Is(err, errExpiredToken) {
			recently := nowSeconds - int64(v.ExpiredTokenTimeout.Seconds())
			if data2, err2 := parseToken(secret, tokenID, recently); err2 == nil {
				return data2, secret, true, nil
			}
		}
		lastErr = err
	}
	return tokenData{}, nil, false, fmt.Errorf("invalid hawk id: %w", lastErr)
}

// parseHawkHeader parses `Hawk id="...", ts="...", nonce="...", mac="...",
// hash="...", ext="..."`.
func parseHawkHeader(header string) (hawkParams, error) {
	var p hawkParams
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Hawk") {
		return p, errBadHawkHeader
	}
	attrs := map[string]string{}
	for _, part := range splitHawkAttrs(rest) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"`)
		attrs[k] = v
	}
	p.id = attrs["id"]
	p.nonce = attrs["nonce"]
	p.hash = attrs["hash"]
	p.ext = attrs["ext"]
	if p.id == "" || p.nonce == "" || attrs["ts"] == "" || attrs["mac"] == "" {
		return p, errBadHawkHeader
	}
	ts, err := strconv.ParseInt(attrs["ts"], 10, 64)
	if err != nil {
		return p, errBadHawkHeader
	}
	p.ts = ts
	mac, err := base64.StdEncoding.DecodeString(attrs["mac"])
	if err != nil {
		return p, errBadHawkHeader
	}
	p.mac = mac
	return p, nil
}

// splitHawkAttrs splits the comma-separated `key="value"` list, ignoring
// commas embedded inside quoted values.
func splitHawkAttrs(s string) []string {
	var out []string
	inQuotes := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// hawkHostPort reports the host/port pair the MAC was computed over.
func hawkHostPort(r *http.Request) (string, string) {
	host := r.Host
	port := "80"
	if r.TLS != nil {
		port = "443"
	}
	if h, p, err := splitHostPort(host); err == nil {
		host, port = h, p
	}
	return host, port
}

func splitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", "", errBadHawkHeader
	}
	return hostport[:idx], hostport[idx+1:], nil
}

// normalizedString builds the Hawk "hawk.1.header" MAC input: one
// newline-terminated field per line, in a fixed order.
func normalizedString(r *http.Request, p hawkParams) string {
	host, port := hawkHostPort(r)
	var b strings.Builder
	b.WriteString("hawk.1.header\n")
	b.WriteString(strconv.FormatInt(p.ts, 10) + "\n")
	b.WriteString(p.nonce + "\n")
	b.WriteString(strings.ToUpper(r.Method) + "\n")
	b.WriteString(r.URL.RequestURI() + "\n")
	b.WriteString(host + "\n")
	b.WriteString(port + "\n")
	b.WriteString(p.hash + "\n")
	b.WriteString(p.ext + "\n")
	return b.String()
}

func verifyHawkMAC(r *http.Request, p hawkParams, requestKey []byte) error {
	mac := hmac.New(sha256.New, requestKey)
	mac.Write([]byte(normalizedString(r, p)))
	if !hmac.Equal(p.mac, mac.Sum(nil)) {
		return errBadMAC
	}
	return nil
}
