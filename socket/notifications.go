package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"attune_server/logger"
	"attune_server/models"
	"attune_server/rpc"
	"attune_server/utils"
)

// ConnState describes the notification channel's connection lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// NotificationChannel maintains a persistent authenticated websocket to the
// real-time backend, deduplicates inbound match_found events and fans them out
// to subscribers. Events missed while disconnected are not recoverable over
// the socket; consumers watch state transitions and re-fetch status after a
// reconnect as their reconciliation step.
type NotificationChannel struct {
	Log *logger.Logger

	endpoint string
	signer   *rpc.Signer
	dialer   *websocket.Dialer
	seen     *utils.SeenSet

	mu        sync.Mutex
	state     ConnState
	subs      []chan models.MatchNotification
	stateSubs []chan ConnState
	closed    bool

	done chan struct{}
}

// NewNotificationChannel builds the channel. endpoint is the websocket URL of
// the real-time backend's notification socket; dial requests are signed with
// the shared-secret signer.
func NewNotificationChannel(log *logger.Logger, endpoint string, signer *rpc.Signer, dedupCapacity int, dedupTTL time.Duration) *NotificationChannel {
	return &NotificationChannel{
		Log:      log.With("service", "NotificationChannel"),
		endpoint: endpoint,
		signer:   signer,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		seen:     utils.NewSeenSet(dedupCapacity, dedupTTL),
		state:    StateDisconnected,
		done:     make(chan struct{}),
	}
}

// Subscribe registers a new independent consumer. Each subscriber receives
// every surfaced notification on its own buffered channel; a subscriber that
// falls far enough behind to fill its buffer loses the oldest-pending event.
func (nc *NotificationChannel) Subscribe() <-chan models.MatchNotification {
	ch := make(chan models.MatchNotification, 16)
	nc.mu.Lock()
	nc.subs = append(nc.subs, ch)
	nc.mu.Unlock()
	return ch
}

// States returns a channel of connection-state transitions. Sends are
// best-effort; a full buffer drops the oldest transition.
func (nc *NotificationChannel) States() <-chan ConnState {
	ch := make(chan ConnState, 8)
	nc.mu.Lock()
	nc.stateSubs = append(nc.stateSubs, ch)
	nc.mu.Unlock()
	return ch
}

// State reports the current connection state.
func (nc *NotificationChannel) State() ConnState {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.state
}

// Start runs the connect/read/reconnect loop until ctx is done or Close is
// called. The event handler is re-installed on every reconnect.
func (nc *NotificationChannel) Start(ctx context.Context) {
	go nc.run(ctx)
}

// Close tears the channel down.
func (nc *NotificationChannel) Close() {
	nc.mu.Lock()
	if nc.closed {
		nc.mu.Unlock()
		return
	}
	nc.closed = true
	nc.mu.Unlock()
	close(nc.done)
}

func (nc *NotificationChannel) run(ctx context.Context) {
	reconnectWait := time.Second
	const maxReconnectWait = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			nc.setState(StateDisconnected)
			return
		case <-nc.done:
			nc.setState(StateDisconnected)
			return
		default:
		}

		nc.setState(StateConnecting)
		conn, err := nc.dial(ctx)
		if err != nil {
			nc.Log.Warn("notification socket dial failed", "error", err)
			nc.setState(StateErrored)
			select {
			case <-time.After(reconnectWait):
			case <-ctx.Done():
				return
			case <-nc.done:
				return
			}
			if reconnectWait *= 2; reconnectWait > maxReconnectWait {
				reconnectWait = maxReconnectWait
			}
			continue
		}

		nc.setState(StateConnected)
		reconnectWait = time.Second
		nc.readLoop(ctx, conn)
		nc.setState(StateDisconnected)
	}
}

func (nc *NotificationChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(nc.endpoint)
	if err != nil {
		return nil, fmt.Errorf("bad notification endpoint: %w", err)
	}
	timestamp := time.Now().Unix()
	header := http.Header{}
	header.Set("X-Request-Timestamp", strconv.FormatInt(timestamp, 10))
	header.Set("Authorization", "HMAC "+nc.signer.Sign(http.MethodGet, u.Path, timestamp, nil))

	conn, _, err := nc.dialer.DialContext(ctx, nc.endpoint, header)
	return conn, err
}

func (nc *NotificationChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// Unblock ReadMessage when the channel shuts down.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-nc.done:
		case <-stop:
			return
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-nc.done:
			default:
				nc.Log.Warn("notification socket read failed", "error", err)
			}
			return
		}
		nc.handleMessage(raw)
	}
}

func (nc *NotificationChannel) handleMessage(raw []byte) {
	var envelope models.NotificationEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		nc.Log.Warn("dropping malformed notification envelope", "error", err)
		return
	}
	if envelope.Subject != models.SubjectMatchFound {
		return
	}

	notification, err := parseMatchContent(envelope.Content)
	if err != nil {
		nc.Log.Warn("dropping malformed match notification", "error", err)
		return
	}
	if notification.CycleID == "" || notification.PartnerID == "" {
		nc.Log.Warn("dropping match notification without cycle or partner id")
		return
	}

	if nc.seen.MarkSeen(notification.DedupKey()) {
		nc.Log.Debug("suppressed duplicate match notification", "key", notification.DedupKey())
		return
	}

	nc.mu.Lock()
	subs := make([]chan models.MatchNotification, len(nc.subs))
	copy(subs, nc.subs)
	nc.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- notification:
		default:
			// Slow consumer: make room by dropping its oldest pending event.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- notification:
			default:
			}
		}
	}
}

// parseMatchContent tolerates content arriving either as a pre-parsed object
// or as a JSON-encoded string.
func parseMatchContent(content interface{}) (models.MatchNotification, error) {
	var notification models.MatchNotification
	switch v := content.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &notification); err != nil {
			return notification, fmt.Errorf("content string is not valid JSON: %w", err)
		}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return notification, err
		}
		if err := json.Unmarshal(raw, &notification); err != nil {
			return notification, fmt.Errorf("content object is not a match notification: %w", err)
		}
	}
	return notification, nil
}

func (nc *NotificationChannel) setState(state ConnState) {
	nc.mu.Lock()
	if nc.state == state {
		nc.mu.Unlock()
		return
	}
	nc.state = state
	stateSubs := make([]chan ConnState, len(nc.stateSubs))
	copy(stateSubs, nc.stateSubs)
	nc.mu.Unlock()

	for _, sub := range stateSubs {
		select {
		case sub <- state:
		default:
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- state:
			default:
			}
		}
	}
}
