package ntfy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"ntfy2tg/pkg/bus"
	"ntfy2tg/pkg/logger"
	"ntfy2tg/pkg/source"
)

// DefaultJitter is the reconnect backoff randomization factor used in production.
const DefaultJitter = 0.5

const (
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = time.Minute
	defaultReadTimeout    = 90 * time.Second

	handshakeTimeout = 10 * time.Second
	controlWriteWait = 5 * time.Second
	recentIDCapacity = 512
)

// State is the lifecycle position of a Listener.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConnectionError wraps a dial or read failure. It is never fatal: the listener reconnects.
type ConnectionError struct {
	Topic string
	// StatusCode is the HTTP status of a rejected handshake, zero otherwise.
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ntfy topic %s: handshake rejected with status %d: %v", e.Topic, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("ntfy topic %s: %v", e.Topic, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ListenerConfig holds the ready-to-use connection descriptor for one topic.
type ListenerConfig struct {
	Topic      string
	URL        string
	AuthHeader string

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Jitter is the backoff randomization factor in [0,1]. Zero makes delays deterministic.
	Jitter float64
	// ReadTimeout bounds the silence tolerated between frames; the server sends keepalives.
	ReadTimeout time.Duration
	// DeliveryGrace is how long an in-flight handler call may continue after shutdown starts.
	DeliveryGrace time.Duration
}

// Listener owns one websocket subscription to a single topic.
type Listener struct {
	cfg    ListenerConfig
	dialer *websocket.Dialer
	events *bus.EventBus
	log    *slog.Logger

	state  atomic.Int32
	seen   *recentIDs
	lastID string
}

var _ source.Source = (*Listener)(nil)

// NewListener validates the descriptor and fills defaults.
func NewListener(cfg ListenerConfig, events *bus.EventBus, log *slog.Logger) (*Listener, error) {
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse listen url: %w", err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, fmt.Errorf("listen url %q must use ws or wss", cfg.URL)
	}

	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaultBackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(defaultBackoffMax, cfg.BackoffInitial)
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = DefaultJitter
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.DeliveryGrace < 0 {
		cfg.DeliveryGrace = 0
	}

	if log == nil {
		log = slog.Default()
	}

	l := &Listener{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		events: events,
		log:    log.With("component", "ntfy.listener", "topic", cfg.Topic),
		seen:   newRecentIDs(recentIDCapacity),
	}
	l.state.Store(int32(StateConnecting))

	return l, nil
}

// Name returns the topic the listener is subscribed to.
func (l *Listener) Name() string {
	return l.cfg.Topic
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Run connects and forwards message events to handler until ctx is canceled.
//
// Connection errors never end the loop; they are retried with exponential backoff that resets
// after every successful connection.
func (l *Listener) Run(ctx context.Context, handler source.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	defer l.setState(StateStopped)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = l.cfg.BackoffInitial
	retry.MaxInterval = l.cfg.BackoffMax
	retry.RandomizationFactor = l.cfg.Jitter
	retry.Multiplier = 2
	retry.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		l.setState(StateConnecting)
		conn, err := l.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			delay := retry.NextBackOff()
			l.logConnectError(err, delay)
			if !sleepContext(ctx, delay) {
				return nil
			}
			continue
		}

		retry.Reset()
		l.setState(StateConnected)
		l.log.Info("Connected", "url", l.cfg.URL)
		l.publish(ctx, bus.Event{Type: bus.EventConnected, Topic: l.cfg.Topic})

		err = l.consume(ctx, conn, handler)

		l.setState(StateDisconnected)
		l.publish(context.WithoutCancel(ctx), bus.Event{Type: bus.EventDisconnected, Topic: l.cfg.Topic, Error: errorString(err)})
		if ctx.Err() != nil {
			l.log.Info("Connection closed")
			return nil
		}

		delay := retry.NextBackOff()
		l.log.Warn("Connection lost", "error", err, "retry_in", delay)
		if !sleepContext(ctx, delay) {
			return nil
		}
	}
}

func (l *Listener) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if l.cfg.AuthHeader != "" {
		header.Set("Authorization", l.cfg.AuthHeader)
	}

	target := l.subscribeURL()
	l.log.Debug("Connecting", "url", target)

	conn, resp, err := l.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		connErr := &ConnectionError{Topic: l.cfg.Topic, Err: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
		}
		return nil, connErr
	}

	return conn, nil
}

// subscribeURL resumes after the last handled message so notifications published while
// disconnected are replayed from the server cache.
func (l *Listener) subscribeURL() string {
	if l.lastID == "" {
		return l.cfg.URL
	}

	endpoint, err := url.Parse(l.cfg.URL)
	if err != nil {
		return l.cfg.URL
	}

	query := endpoint.Query()
	query.Set("since", l.lastID)
	endpoint.RawQuery = query.Encode()
	return endpoint.String()
}

func (l *Listener) consume(ctx context.Context, conn *websocket.Conn, handler source.Handler) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(controlWriteWait)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	})
	defer stop()

	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	}
	if err := extend(); err != nil {
		return &ConnectionError{Topic: l.cfg.Topic, Err: err}
	}

	conn.SetPingHandler(func(appData string) error {
		_ = extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		return extend()
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return &ConnectionError{Topic: l.cfg.Topic, Err: err}
		}
		if err := extend(); err != nil {
			return &ConnectionError{Topic: l.cfg.Topic, Err: err}
		}

		l.handleFrame(ctx, frame, handler)
	}
}

func (l *Listener) handleFrame(ctx context.Context, frame []byte, handler source.Handler) {
	notification, err := Decode(frame)
	if err != nil {
		l.log.Warn("Skipping undecodable frame", "error", err, "frame", logger.Preview(string(frame)))
		l.publish(ctx, bus.Event{Type: bus.EventFrameSkipped, Topic: l.cfg.Topic, Error: err.Error()})
		return
	}

	if notification.Event != bus.EventKindMessage {
		l.log.Debug("Skipping control event", "event", string(notification.Event))
		return
	}

	if l.seen.Contains(notification.ID) {
		l.log.Debug("Skipping already forwarded message", "id", notification.ID)
		return
	}

	l.log.Info("Received message", "id", notification.ID, "title", logger.Preview(notification.Title))
	l.publish(ctx, bus.Event{Type: bus.EventReceived, Topic: l.cfg.Topic, MessageID: notification.ID})

	handlerCtx, release := withGrace(ctx, l.cfg.DeliveryGrace)
	err = handler(handlerCtx, notification)
	release()
	if err != nil {
		l.log.Debug("Handler reported failure", "id", notification.ID, "error", err)
	}

	// Delivery is attempted once; a failed message is dropped, not replayed on reconnect.
	l.seen.Add(notification.ID)
	if notification.ID != "" {
		l.lastID = notification.ID
	}
}

func (l *Listener) logConnectError(err error, delay time.Duration) {
	var connErr *ConnectionError
	if errors.As(err, &connErr) && (connErr.StatusCode == http.StatusUnauthorized || connErr.StatusCode == http.StatusForbidden) {
		l.log.Error("Subscription rejected, check credentials", "status", connErr.StatusCode, "retry_in", delay)
		return
	}

	l.log.Warn("Connection failed", "error", err, "retry_in", delay)
}

func (l *Listener) setState(state State) {
	l.state.Store(int32(state))
}

func (l *Listener) publish(ctx context.Context, event bus.Event) {
	if l.events == nil {
		return
	}
	l.events.PublishEvent(ctx, event)
}

// withGrace returns a context that outlives ctx by grace, so an in-flight delivery can finish
// during shutdown instead of being aborted mid-call.
func withGrace(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(grace, cancel)
	})

	return detached, func() {
		stop()
		cancel()
	}
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
