package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ntfy2tg/pkg/bus"
)

const metricsNamespace = "ntfy2tg"

// metrics are registered on a private registry so tests and multiple services never collide.
type metrics struct {
	registry *prometheus.Registry

	received      *prometheus.CounterVec
	forwarded     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	framesSkipped *prometheus.CounterVec
	disconnects   *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	connected     *prometheus.GaugeVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, []string{"topic"})
	}

	return &metrics{
		registry:      registry,
		received:      counter("messages_received_total", "Message events received from ntfy."),
		forwarded:     counter("messages_forwarded_total", "Messages accepted by the Telegram Bot API."),
		dropped:       counter("messages_dropped_total", "Messages given up on after delivery failed."),
		framesSkipped: counter("frames_skipped_total", "Websocket frames that could not be decoded."),
		disconnects:   counter("listener_disconnects_total", "Websocket connections lost after being established."),
		restarts:      counter("listener_restarts_total", "Listeners restarted after exiting unexpectedly."),
		connected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "listener_connected",
			Help:      "Whether the topic subscription is currently connected.",
		}, []string{"topic"}),
	}
}

// observe folds one lifecycle event into the metric set.
func (m *metrics) observe(event bus.Event) {
	switch event.Type {
	case bus.EventConnected:
		m.connected.WithLabelValues(event.Topic).Set(1)
	case bus.EventDisconnected:
		m.connected.WithLabelValues(event.Topic).Set(0)
		m.disconnects.WithLabelValues(event.Topic).Inc()
	case bus.EventFrameSkipped:
		m.framesSkipped.WithLabelValues(event.Topic).Inc()
	case bus.EventReceived:
		m.received.WithLabelValues(event.Topic).Inc()
	case bus.EventForwarded:
		m.forwarded.WithLabelValues(event.Topic).Inc()
	case bus.EventDropped:
		m.dropped.WithLabelValues(event.Topic).Inc()
	}
}
