package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"attune_server/logger"
	"attune_server/models"
)

// RPCError is a failed call through the signed bridge. Retryable marks
// transport-level and 5xx failures; 4xx responses are the caller's fault and
// are never retried.
type RPCError struct {
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *RPCError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("rpc call failed: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("rpc transport error: %v", e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// Client performs signed outbound calls to the real-time backend with bounded
// retry. Backoff between attempts is exponential starting at one second and
// capped at five.
type Client struct {
	BaseURL  string
	Signer   *Signer
	Attempts int
	Log      *logger.Logger

	http *http.Client
}

// NewClient builds a signed RPC caller. attempts is the total number of tries
// for each logical call, not the number of retries.
func NewClient(log *logger.Logger, baseURL string, signer *Signer, timeout time.Duration, attempts int) *Client {
	if attempts <= 0 {
		attempts = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Signer:   signer,
		Attempts: attempts,
		Log:      log.With("service", "RPCClient"),
		http:     &http.Client{Timeout: timeout},
	}
}

// Call issues a signed request and decodes a JSON response into out (which
// may be nil). Retries transport errors and 5xx responses up to the configured
// attempt count; 4xx responses abort immediately.
func (c *Client) Call(ctx context.Context, method, path string, reqBody interface{}, out interface{}) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal rpc request body: %w", err)
		}
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if rpcErr, ok := err.(*RPCError); ok && !rpcErr.Retryable {
			return backoff.Permanent(err)
		}
		c.Log.Warn("rpc attempt failed", "method", method, "path", path, "attempt", attempt, "error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 5 * time.Second
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.Attempts-1)), ctx))
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out interface{}) error {
	timestamp := time.Now().Unix()
	signature := c.Signer.Sign(method, path, timestamp, body)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return &RPCError{Retryable: false, Err: err, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("Authorization", "HMAC "+signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return &RPCError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RPCError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
			Retryable:  resp.StatusCode < 400 || resp.StatusCode >= 500,
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &RPCError{Retryable: false, Err: err, Message: "failed to decode response body"}
		}
	}
	return nil
}

// errorMessage extracts a structured {message} error body, falling back to the
// raw text.
func errorMessage(raw []byte) string {
	var structured struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Message != "" {
		return structured.Message
	}
	return strings.TrimSpace(string(raw))
}

// NotifyMatchFound pushes a match_found notification for a user to the
// real-time backend, which fans it out to the user's connected clients.
func (c *Client) NotifyMatchFound(ctx context.Context, userID string, notification models.MatchNotification) error {
	envelope := models.NotificationEnvelope{
		UserID:  userID,
		Subject: models.SubjectMatchFound,
		Content: notification,
	}
	return c.Call(ctx, http.MethodPost, "/api/notifications/send", envelope, nil)
}
