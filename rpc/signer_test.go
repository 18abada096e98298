package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_SignVerifyRoundTrip(t *testing.T) {
	signer := NewSigner("shared-secret", DefaultMaxSkew)

	now := time.Now().Unix()
	body := []byte(`{"userId":"u1"}`)
	sig := signer.Sign("POST", "/api/notifications/send", now, body)

	require.Len(t, sig, 64, "HMAC-SHA256 hex digest is 64 characters")
	assert.True(t, signer.Verify("POST", "/api/notifications/send", now, body, sig))
}

func TestSigner_VerifyRejectsTampering(t *testing.T) {
	signer := NewSigner("shared-secret", DefaultMaxSkew)

	now := time.Now().Unix()
	body := []byte(`{"userId":"u1"}`)
	sig := signer.Sign("POST", "/api/notifications/send", now, body)

	// Any flipped element of the canonical message invalidates the signature.
	assert.False(t, signer.Verify("GET", "/api/notifications/send", now, body, sig))
	assert.False(t, signer.Verify("POST", "/api/other", now, body, sig))
	assert.False(t, signer.Verify("POST", "/api/notifications/send", now+1, body, sig))
	assert.False(t, signer.Verify("POST", "/api/notifications/send", now, []byte(`{"userId":"u2"}`), sig))

	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	assert.False(t, signer.Verify("POST", "/api/notifications/send", now, body, string(flipped)))
}

func TestSigner_VerifyRejectsWrongSecret(t *testing.T) {
	signer := NewSigner("shared-secret", DefaultMaxSkew)
	other := NewSigner("different-secret", DefaultMaxSkew)

	now := time.Now().Unix()
	sig := other.Sign("POST", "/api/notifications/send", now, nil)
	assert.False(t, signer.Verify("POST", "/api/notifications/send", now, nil, sig))
}

func TestSigner_EmptyBodyMatchesNoBody(t *testing.T) {
	signer := NewSigner("shared-secret", DefaultMaxSkew)

	now := time.Now().Unix()
	sig := signer.Sign("GET", "/api/embedding/user/u1/status", now, nil)
	assert.True(t, signer.Verify("GET", "/api/embedding/user/u1/status", now, []byte{}, sig))
}

func TestSigner_TimestampSkew(t *testing.T) {
	signer := NewSigner("shared-secret", 300*time.Second)
	now := time.Now()

	cases := []struct {
		name   string
		offset time.Duration
		valid  bool
	}{
		{"current", 0, true},
		{"slightly old", -299 * time.Second, true},
		{"slightly ahead", 299 * time.Second, true},
		{"at boundary", -300 * time.Second, true},
		{"too old", -301 * time.Second, false},
		{"too far ahead", 301 * time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, signer.TimestampValid(now.Add(tc.offset).Unix(), now))
		})
	}
}

func TestSigner_StaleTimestampFailsVerifyEvenWithValidSignature(t *testing.T) {
	signer := NewSigner("shared-secret", 300*time.Second)

	stale := time.Now().Add(-10 * time.Minute).Unix()
	sig := signer.Sign("POST", "/api/notifications/send", stale, nil)
	assert.False(t, signer.Verify("POST", "/api/notifications/send", stale, nil, sig))
}
