// Package signer implements HMAC-SHA256 webhook body signing and
// constant-time bearer-token verification for the worker's HTTP surface.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignBody returns the lowercase-hex HMAC-SHA256 of body keyed by secret.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyBearer reports whether headerValue is exactly "Bearer " + expected,
// compared in constant time. A missing header or any mismatch fails.
func VerifyBearer(headerValue, expected string) bool {
	if headerValue == "" {
		return false
	}
	want := "Bearer " + expected
	// ConstantTimeCompare requires equal-length slices to avoid leaking
	// length via early return; pad neither side, just reject on mismatch.
	if len(headerValue) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(headerValue), []byte(want)) == 1
}
