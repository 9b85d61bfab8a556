// Package signature implements webhook payload authentication using
// HMAC-SHA256 over the raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const headerPrefix = "sha256="

// Sign computes the signature header value for the given body and secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return headerPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the X-Hub-Signature-256 header value against the raw body.
// An empty secret disables verification and always passes; a configured
// secret with a missing or malformed header fails. Comparison is
// constant-time.
func Verify(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	if !strings.HasPrefix(header, headerPrefix) {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}
