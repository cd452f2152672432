package metrics

import (
	"net/http"
	"time"

	"imbroker/internal/broker"
)

// BrokerMetrics records broker activity. It implements broker.Observer.
type BrokerMetrics struct {
	registry *Registry

	ClientsRegistered  *Gauge
	Activations        *Counter
	ActivationFailures *Counter
	Handoffs           *Counter
	Evictions          *Counter

	Broadcasts     *CounterVec
	TargetFailures *CounterVec

	OutboundCalls    *CounterVec
	OutboundFailures *CounterVec

	PreeditRectangleLatency *Histogram
	PreeditRectangleInvalid *Counter

	UptimeSeconds *Gauge
	started       time.Time
}

var _ broker.Observer = (*BrokerMetrics)(nil)

// NewBrokerMetrics creates and registers the broker metrics.
func NewBrokerMetrics(registry *Registry) *BrokerMetrics {
	if registry == nil {
		registry = NewRegistry("imbroker")
	}

	return &BrokerMetrics{
		registry: registry,
		started:  time.Now(),

		ClientsRegistered: registry.RegisterGauge(
			"clients_registered",
			"Number of registered input-context clients",
			nil,
		),
		Activations: registry.RegisterCounter(
			"activations_total",
			"Total number of successful context activations",
			nil,
		),
		ActivationFailures: registry.RegisterCounter(
			"activation_failures_total",
			"Total number of activations of unregistered clients",
			nil,
		),
		Handoffs: registry.RegisterCounter(
			"handoffs_total",
			"Total number of activations that moved focus from another client",
			nil,
		),
		Evictions: registry.RegisterCounter(
			"evictions_total",
			"Total number of clients dropped after disconnecting",
			nil,
		),
		Broadcasts: registry.RegisterCounterVec(
			"broadcasts_total",
			"Total number of backend broadcasts by event",
			"event",
			nil,
		),
		TargetFailures: registry.RegisterCounterVec(
			"target_failures_total",
			"Total number of backend handler failures by event",
			"event",
			nil,
		),
		OutboundCalls: registry.RegisterCounterVec(
			"outbound_calls_total",
			"Total number of calls made to the active client by method",
			"method",
			nil,
		),
		OutboundFailures: registry.RegisterCounterVec(
			"outbound_failures_total",
			"Total number of failed calls to the active client by method",
			"method",
			nil,
		),
		PreeditRectangleLatency: registry.RegisterHistogram(
			"preedit_rectangle_seconds",
			"Round trip of preedit rectangle queries in seconds",
			nil,
			LatencyBuckets,
		),
		PreeditRectangleInvalid: registry.RegisterCounter(
			"preedit_rectangle_invalid_total",
			"Total number of preedit rectangle queries without a valid answer",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Seconds since the broker started",
			nil,
		),
	}
}

// Registry returns the registry the metrics live in.
func (m *BrokerMetrics) Registry() *Registry {
	return m.registry
}

func (m *BrokerMetrics) ClientsChanged(registered int) {
	m.ClientsRegistered.Set(int64(registered))
}

func (m *BrokerMetrics) Activated(handoff bool) {
	m.Activations.Inc()
	if handoff {
		m.Handoffs.Inc()
	}
}

func (m *BrokerMetrics) ActivationFailed() {
	m.ActivationFailures.Inc()
}

func (m *BrokerMetrics) Evicted(broker.ClientID) {
	m.Evictions.Inc()
}

func (m *BrokerMetrics) Broadcast(event string, _, failures int) {
	m.Broadcasts.With(event).Inc()
	if failures > 0 {
		m.TargetFailures.With(event).Add(uint64(failures))
	}
}

func (m *BrokerMetrics) OutboundCall(method string, err error) {
	m.OutboundCalls.With(method).Inc()
	if err != nil {
		m.OutboundFailures.With(method).Inc()
	}
}

func (m *BrokerMetrics) PreeditRectangleQueried(elapsed time.Duration, valid bool) {
	m.PreeditRectangleLatency.ObserveDuration(elapsed)
	if !valid {
		m.PreeditRectangleInvalid.Inc()
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *BrokerMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.started).Seconds()))
}

// Handler refreshes the uptime gauge and serves the registry.
func (m *BrokerMetrics) Handler() http.Handler {
	inner := m.registry.HTTPHandler()
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		m.UpdateUptime()
		inner.ServeHTTP(w, req)
	})
}
