package rpc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// DefaultMaxSkew bounds how far a request timestamp may drift from the
// receiver's clock before the request is rejected. Limits the replay window.
const DefaultMaxSkew = 300 * time.Second

// Signer computes and verifies HMAC-SHA256 request signatures over a shared
// secret. The secret is fixed at construction and never mutated at runtime.
type Signer struct {
	secret  []byte
	maxSkew time.Duration
}

// NewSigner builds a Signer. A non-positive maxSkew falls back to the default.
func NewSigner(secret string, maxSkew time.Duration) *Signer {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Signer{secret: []byte(secret), maxSkew: maxSkew}
}

// canonicalMessage is METHOD + PATH + TIMESTAMP + body (body omitted when
// empty). Both sides must build the identical string.
func canonicalMessage(method, path string, timestamp int64, body []byte) string {
	msg := method + path + strconv.FormatInt(timestamp, 10)
	if len(body) > 0 {
		msg += string(body)
	}
	return msg
}

// Sign returns the hex-encoded HMAC-SHA256 signature for the request.
func (s *Signer) Sign(method, path string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonicalMessage(method, path, timestamp, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected signature and compares it in constant time.
// Requests whose timestamp falls outside the skew window fail verification
// regardless of signature.
func (s *Signer) Verify(method, path string, timestamp int64, body []byte, signature string) bool {
	if !s.TimestampValid(timestamp, time.Now()) {
		return false
	}
	expected := s.Sign(method, path, timestamp, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// TimestampValid reports whether the unix-seconds timestamp is within the
// allowed skew of now.
func (s *Signer) TimestampValid(timestamp int64, now time.Time) bool {
	delta := now.Unix() - timestamp
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Second <= s.maxSkew
}
