package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names sent on every signed relay request.
const (
	HeaderKey       = "X-Relay-Key"
	HeaderTimestamp = "X-Relay-Timestamp"
	HeaderSignature = "X-Relay-Signature"
)

// HMACAuth signs requests to the swap relay.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the auth headers for a request. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body), base64 encoded.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks a signature produced by HeadersAt.
func (h *HMACAuth) Verify(method, path, body, ts, signature string) bool {
	want := Sign([]byte(h.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// Sign computes HMAC-SHA256 of message and returns it base64 encoded.
func Sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
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
