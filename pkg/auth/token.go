package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var (
	errMalformedToken   = errors.New("malformed token id")
	errInvalidSignature = errors.New("invalid token signature")
	errExpiredToken     = errors.New("token expired")
)

// tokenData is the payload carried inside a token id. Expires is unix
// seconds; a token is valid through that instant.
type tokenData struct {
	UID      int64  `json:"uid"`
	Node     string `json:"node"`
	FxAUID   string `json:"fxa_uid,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Expires  int64  `json:"expires"`
}

// IssueToken mints a token id for data, signed with secret. Exposed for
// tests and for a future token-issuance endpoint; request verification
// never calls it directly.
func IssueToken(secret []byte, data tokenData) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	sig := signPayload(secret, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// parseToken validates tokenID against secret and decodes its payload.
// nowSeconds is injected so callers can re-check against an earlier
// instant to implement the expired-token grace window.
func parseToken(secret []byte, tokenID string, nowSeconds int64) (tokenData, error) {
	var data tokenData
	parts := strings.SplitN(tokenID, ".", 2)
	if len(parts) != 2 {
		return data, errMalformedToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return data, errMalformedToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return data, errMalformedToken
	}
	if !hmac.Equal(sig, signPayload(secret, payload)) {
		return data, errInvalidSignature
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return data, errMalformedToken
	}
	if data.Expires < nowSeconds {
		return data, errExpiredToken
	}
	return data, nil
}

// derivedRequestKey computes the per-request signing key from a token
// id, the way the request_key of spec.md §4.5 is derived: a secret the
// storage core never sees directly, only this key.
func derivedRequestKey(secret []byte, tokenID string) []byte {
	return signPayload(secret, []byte(tokenID))
}

func signPayload(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
