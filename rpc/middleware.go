package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"attune_server/logger"
)

// VerifyMiddleware rejects any request whose HMAC signature or timestamp does
// not verify. Only verified requests reach the wrapped handler. The request
// body is re-buffered so downstream handlers can read it again.
func VerifyMiddleware(log *logger.Logger, signer *Signer) func(http.Handler) http.Handler {
	mlog := log.With("middleware", "rpc-verify")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tsHeader := r.Header.Get("X-Request-Timestamp")
			auth := r.Header.Get("Authorization")

			timestamp, err := strconv.ParseInt(tsHeader, 10, 64)
			if err != nil {
				unauthorized(w, "missing or malformed request timestamp")
				return
			}
			signature, ok := strings.CutPrefix(auth, "HMAC ")
			if !ok {
				unauthorized(w, "missing HMAC authorization")
				return
			}

			var body []byte
			if r.Body != nil {
				body, err = io.ReadAll(r.Body)
				if err != nil {
					unauthorized(w, "unreadable request body")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			if !signer.Verify(r.Method, r.URL.Path, timestamp, body, signature) {
				mlog.Warn("rejected unsigned or stale request", "method", r.Method, "path", r.URL.Path)
				unauthorized(w, "invalid request signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
