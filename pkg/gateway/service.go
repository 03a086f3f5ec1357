// Package gateway supervises one listener per topic and forwards their notifications to Telegram.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ntfy2tg/pkg/bus"
	"ntfy2tg/pkg/config"
	"ntfy2tg/pkg/format"
	"ntfy2tg/pkg/logger"
	"ntfy2tg/pkg/source"
)

const (
	defaultRestartDelay = 5 * time.Second
	eventBuffer         = 256

	stateConnecting   = "connecting"
	stateConnected    = "connected"
	stateDisconnected = "disconnected"
	stateRestarting   = "restarting"
	stateStopped      = "stopped"
)

// Deliverer sends one rendered chat message. *telegram.Client satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, msg bus.ChatMessage) error
}

type Service struct {
	cfg      config.GatewayConfig
	log      *slog.Logger
	sources  []source.Source
	mapper   *format.Mapper
	delivery Deliverer
	events   *bus.EventBus
	metrics  *metrics

	restartDelay time.Duration

	mu             sync.RWMutex
	startedAt      time.Time
	listenerStates map[string]listenerState
}

type listenerState struct {
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

// NewService wires the supervisor. events must be the bus the sources publish lifecycle events on.
func NewService(cfg config.GatewayConfig, sources []source.Source, mapper *format.Mapper, delivery Deliverer, events *bus.EventBus, log *slog.Logger) (*Service, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one topic listener is required")
	}
	if mapper == nil {
		return nil, errors.New("message mapper is required")
	}
	if delivery == nil {
		return nil, errors.New("delivery client is required")
	}
	if events == nil {
		events = bus.NewEventBus()
	}
	if log == nil {
		log = slog.Default()
	}

	states := make(map[string]listenerState, len(sources))
	for _, src := range sources {
		if _, dup := states[src.Name()]; dup {
			return nil, fmt.Errorf("duplicate listener for topic %q", src.Name())
		}
		states[src.Name()] = listenerState{State: stateConnecting}
	}

	return &Service{
		cfg:            cfg,
		log:            log.With("component", "gateway.service"),
		sources:        sources,
		mapper:         mapper,
		delivery:       delivery,
		events:         events,
		metrics:        newMetrics(),
		restartDelay:   defaultRestartDelay,
		listenerStates: states,
	}, nil
}

// Run starts every listener and blocks until ctx is canceled or the status server fails.
//
// Listeners are expected to run forever; one that returns or panics is logged as a bug and
// restarted after a short delay.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	events, unsubscribe := s.events.SubscribeEvents(ctx, eventBuffer)
	defer unsubscribe()
	go s.trackEvents(events)

	serverErrors := make(chan error, 1)
	if s.cfg.StatusAddr != "" {
		go s.runStatusServer(ctx, serverErrors)
	}

	var wg sync.WaitGroup
	for _, src := range s.sources {
		wg.Go(func() {
			s.supervise(ctx, src)
		})
	}

	s.log.Info("Gateway started", "topics", len(s.sources))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrors:
		cancel()
	}

	s.waitStopped(&wg)
	s.log.Info("Gateway stopped")

	return runErr
}

// waitStopped gives listeners the delivery grace period to finish in-flight sends.
func (s *Service) waitStopped(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace + time.Second):
		s.log.Warn("Listeners did not stop within shutdown grace", "grace", s.cfg.ShutdownGrace)
	}
}

func (s *Service) supervise(ctx context.Context, src source.Source) {
	name := src.Name()
	for {
		err := s.runSource(ctx, src)
		if ctx.Err() != nil {
			s.setListenerState(name, func(state *listenerState) { state.State = stateStopped })
			return
		}

		s.log.Error("Listener exited unexpectedly, restarting", "topic", name, "error", err, "restart_in", s.restartDelay)
		s.metrics.restarts.WithLabelValues(name).Inc()
		s.setListenerState(name, func(state *listenerState) {
			state.State = stateRestarting
			state.Error = errorString(err)
		})

		timer := time.NewTimer(s.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setListenerState(name, func(state *listenerState) { state.State = stateStopped })
			return
		case <-timer.C:
		}
	}
}

func (s *Service) runSource(ctx context.Context, src source.Source) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("listener panic: %v", recovered)
		}
	}()

	err = src.Run(ctx, s.forward)
	if err == nil && ctx.Err() == nil {
		err = errors.New("listener returned without error")
	}

	return err
}

// forward is the per-notification pipeline shared by all listeners: map, deliver, report.
func (s *Service) forward(ctx context.Context, n bus.Notification) error {
	msg, ok := s.mapper.Map(n)
	if !ok {
		return nil
	}

	log := s.log.With("topic", n.Topic, "message_id", n.ID)
	if err := s.delivery.Deliver(ctx, msg); err != nil {
		log.Error("Dropped message", "error", err, "content", logger.Preview(msg.Text))
		s.events.PublishEvent(ctx, bus.Event{Type: bus.EventDropped, Topic: n.Topic, MessageID: n.ID, Error: err.Error()})
		return err
	}

	log.Info("Forwarded message")
	s.events.PublishEvent(ctx, bus.Event{Type: bus.EventForwarded, Topic: n.Topic, MessageID: n.ID})
	return nil
}

func (s *Service) trackEvents(events <-chan bus.Event) {
	for event := range events {
		s.metrics.observe(event)
		s.applyEvent(event)
	}
}

func (s *Service) applyEvent(event bus.Event) {
	if event.Topic == "" {
		return
	}

	s.setListenerState(event.Topic, func(state *listenerState) {
		switch event.Type {
		case bus.EventConnected:
			state.State = stateConnected
			state.Error = ""
		case bus.EventDisconnected:
			if state.State != stateStopped {
				state.State = stateDisconnected
			}
			state.Error = event.Error
		case bus.EventReceived:
			state.LastMessageAt = event.At.Format(time.RFC3339)
		}
	})
}

func (s *Service) setListenerState(name string, update func(*listenerState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.listenerStates[name]
	if !ok {
		return
	}
	update(&state)
	s.listenerStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
