package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the shared-secret credentials for HMAC-authenticated
// requests against the confidentiality gateway API.
type HMACAuth struct {
	Key    string // API key identifying this caller
	Secret string // base64-encoded signing secret
}

// Headers returns the HTTP headers for a gateway API request. The signature
// is HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64. The
// secret is first base64-decoded before being used as the HMAC key.
//
// Returned header keys:
//   - X-Gateway-Key
//   - X-Gateway-Timestamp
//   - X-Gateway-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(h.Secret)
	}

	message := ts + method + path + body
	sig := hmacSHA256Base64(secretBytes, message)

	return map[string]string{
		"X-Gateway-Key":       h.Key,
		"X-Gateway-Timestamp": ts,
		"X-Gateway-Signature": sig,
	}
}

// Verify checks a signature produced by HeadersAt against the same message
// material. Servers use it to authenticate incoming signed requests.
func (h *HMACAuth) Verify(method, path, body, timestamp, signature string) bool {
	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		secretBytes = []byte(h.Secret)
	}

	message := timestamp + method + path + body
	want := hmacSHA256Base64(secretBytes, message)
	return hmac.Equal([]byte(want), []byte(signature))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
