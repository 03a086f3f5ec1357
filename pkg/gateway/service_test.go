package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"ntfy2tg/pkg/bus"
	"ntfy2tg/pkg/config"
	"ntfy2tg/pkg/format"
	"ntfy2tg/pkg/source"
)

type recordingDeliverer struct {
	mu       sync.Mutex
	messages []bus.ChatMessage
	failFor  map[string]error
}

func (d *recordingDeliverer) Deliver(_ context.Context, msg bus.ChatMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failFor[msg.MessageID]; err != nil {
		return err
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDeliverer) delivered() []bus.ChatMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]bus.ChatMessage, len(d.messages))
	copy(out, d.messages)
	return out
}

// scriptedSource replays notifications, then blocks like a healthy listener.
type scriptedSource struct {
	name          string
	events        *bus.EventBus
	notifications []bus.Notification

	// exits makes the first runs return immediately with the given errors.
	exits []error
	// panics makes the first run panic.
	panics bool

	runs atomic.Int32
	done chan struct{}
	once sync.Once
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Run(ctx context.Context, handler source.Handler) error {
	run := int(s.runs.Add(1))
	if s.panics && run == 1 {
		panic("listener bug")
	}
	if run <= len(s.exits) {
		return s.exits[run-1]
	}

	s.events.PublishEvent(ctx, bus.Event{Type: bus.EventConnected, Topic: s.name})
	for _, n := range s.notifications {
		s.events.PublishEvent(ctx, bus.Event{Type: bus.EventReceived, Topic: s.name, MessageID: n.ID})
		_ = handler(ctx, n)
	}
	if s.done != nil {
		s.once.Do(func() { close(s.done) })
	}

	<-ctx.Done()
	s.events.PublishEvent(context.WithoutCancel(ctx), bus.Event{Type: bus.EventDisconnected, Topic: s.name})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMapper() *format.Mapper {
	return format.NewMapper(format.Options{Emoji: format.EmojiTable{"warning": "⚠️"}})
}

func newTestService(t *testing.T, cfg config.GatewayConfig, events *bus.EventBus, delivery Deliverer, sources ...source.Source) *Service {
	t.Helper()

	svc, err := NewService(cfg, sources, testMapper(), delivery, events, testLogger())
	require.NoError(t, err)
	svc.restartDelay = 10 * time.Millisecond
	return svc
}

func notification(topic, id, title string) bus.Notification {
	return bus.Notification{ID: id, Event: bus.EventKindMessage, Topic: topic, Title: title}
}

func TestNewServiceValidatesInputs(t *testing.T) {
	t.Parallel()

	events := bus.NewEventBus()
	defer events.Close()
	delivery := &recordingDeliverer{}
	src := &scriptedSource{name: "alerts", events: events}

	_, err := NewService(config.GatewayConfig{}, nil, testMapper(), delivery, events, nil)
	require.Error(t, err)

	_, err = NewService(config.GatewayConfig{}, []source.Source{src}, nil, delivery, events, nil)
	require.Error(t, err)

	_, err = NewService(config.GatewayConfig{}, []source.Source{src}, testMapper(), nil, events, nil)
	require.Error(t, err)

	_, err = NewService(config.GatewayConfig{}, []source.Source{src, &scriptedSource{name: "alerts"}}, testMapper(), delivery, events, nil)
	require.ErrorContains(t, err, "duplicate")
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{listenerStates: map[string]listenerState{
		"alerts":  {State: stateConnected},
		"backups": {State: stateConnecting},
	}}
	require.False(t, svc.isReady())

	svc.applyEvent(bus.Event{Type: bus.EventConnected, Topic: "backups"})
	require.True(t, svc.isReady())

	svc.applyEvent(bus.Event{Type: bus.EventDisconnected, Topic: "alerts", Error: "read timeout"})
	require.False(t, svc.isReady())
	require.Equal(t, "read timeout", svc.listenerStates["alerts"].Error)

	require.False(t, (&Service{listenerStates: map[string]listenerState{}}).isReady())
}

func TestApplyEventIgnoresUnknownTopics(t *testing.T) {
	t.Parallel()

	svc := &Service{listenerStates: map[string]listenerState{"alerts": {State: stateConnecting}}}
	svc.applyEvent(bus.Event{Type: bus.EventConnected, Topic: "other"})
	svc.applyEvent(bus.Event{Type: bus.EventConnected})

	require.Len(t, svc.listenerStates, 1)
	require.Equal(t, stateConnecting, svc.listenerStates["alerts"].State)
}

func TestForwardPublishesOutcome(t *testing.T) {
	t.Parallel()

	events := bus.NewEventBus()
	defer events.Close()

	delivery := &recordingDeliverer{failFor: map[string]error{"bad": errors.New("chat not found")}}
	svc := newTestService(t, config.GatewayConfig{}, events, delivery, &scriptedSource{name: "alerts", events: events})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	observed, _ := events.SubscribeEvents(ctx, 8)

	require.NoError(t, svc.forward(ctx, notification("alerts", "ok", "Disk Full")))
	require.Error(t, svc.forward(ctx, notification("alerts", "bad", "Disk Full")))
	require.NoError(t, svc.forward(ctx, bus.Notification{ID: "k", Event: bus.EventKindKeepalive, Topic: "alerts"}))

	first := <-observed
	require.Equal(t, bus.EventForwarded, first.Type)
	require.Equal(t, "ok", first.MessageID)

	second := <-observed
	require.Equal(t, bus.EventDropped, second.Type)
	require.Equal(t, "bad", second.MessageID)
	require.Contains(t, second.Error, "chat not found")

	select {
	case extra := <-observed:
		t.Fatalf("unexpected event for control frame: %+v", extra)
	default:
	}

	delivered := delivery.delivered()
	require.Len(t, delivered, 1)
	require.Equal(t, "*Disk Full*", delivered[0].Text)
}

func TestRunRestartsListenerThatExits(t *testing.T) {
	t.Parallel()

	events := bus.NewEventBus()
	defer events.Close()

	src := &scriptedSource{
		name:   "alerts",
		events: events,
		exits:  []error{errors.New("socket exploded"), nil},
		done:   make(chan struct{}),
	}
	svc := newTestService(t, config.GatewayConfig{}, events, &recordingDeliverer{}, src)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	select {
	case <-src.done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener was not restarted")
	}
	require.Equal(t, int32(3), src.runs.Load())
	require.Equal(t, float64(2), testutil.ToFloat64(svc.metrics.restarts.WithLabelValues("alerts")))

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
	require.Equal(t, stateStopped, svc.currentStatus("").Listeners["alerts"].State)
}

func TestRunRecoversListenerPanic(t *testing.T) {
	t.Parallel()

	events := bus.NewEventBus()
	defer events.Close()

	src := &scriptedSource{name: "alerts", events: events, panics: true, done: make(chan struct{})}
	svc := newTestService(t, config.GatewayConfig{}, events, &recordingDeliverer{}, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = svc.Run(ctx)
	}()

	select {
	case <-src.done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener was not restarted after panic")
	}
	require.Equal(t, int32(2), src.runs.Load())
}

func TestMetricsObserveEvents(t *testing.T) {
	t.Parallel()

	m := newMetrics()
	for _, event := range []bus.Event{
		{Type: bus.EventConnected, Topic: "alerts"},
		{Type: bus.EventReceived, Topic: "alerts"},
		{Type: bus.EventReceived, Topic: "alerts"},
		{Type: bus.EventForwarded, Topic: "alerts"},
		{Type: bus.EventDropped, Topic: "alerts"},
		{Type: bus.EventFrameSkipped, Topic: "alerts"},
		{Type: bus.EventDisconnected, Topic: "alerts"},
	} {
		m.observe(event)
	}

	require.Equal(t, float64(2), testutil.ToFloat64(m.received.WithLabelValues("alerts")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.forwarded.WithLabelValues("alerts")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.dropped.WithLabelValues("alerts")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.framesSkipped.WithLabelValues("alerts")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.disconnects.WithLabelValues("alerts")))
	require.Equal(t, float64(0), testutil.ToFloat64(m.connected.WithLabelValues("alerts")))
}
