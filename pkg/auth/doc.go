// Package auth implements the authentication adapter of spec.md §4.5: a
// Hawk-style request verifier that turns a token id plus a per-request
// MAC into a (uid, node_name, request_key, principal) tuple, tolerating
// an expired-but-recent token as a degraded "expired:<uid>" principal,
// and a Middleware that wires the verified uid into the request context
// pkg/controller reads from.
//
// Tokens are opaque bearer strings minted by IssueToken/parsed by
// parseToken: an HMAC-signed JSON envelope, validated against any of a
// configured set of rotating shared secrets. This mirrors the shape of
// the upstream token service (uid + node + expiry, HMAC-derived
// per-request key) without depending on that service's wire format,
// since nothing in the reference pack ships a Hawk client.
package auth
