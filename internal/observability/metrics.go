package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive  prometheus.Gauge
	framesReceived     *prometheus.CounterVec
	errorFrames        *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	welcomeOutcomes    *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	sessionsEvicted    prometheus.Counter
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Currently open relay connections.",
		}),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_frames_received_total",
				Help: "Inbound frames by kind.",
			},
			[]string{"kind"},
		),
		errorFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_error_frames_total",
				Help: "Error frames sent to clients by error class.",
			},
			[]string{"class"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_deliveries_total",
				Help: "Outbound frame deliveries by result.",
			},
			[]string{"result"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "generation_duration_seconds",
				Help:    "Duration of text generation calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"purpose", "status"},
		),
		welcomeOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "welcome_outcomes_total",
				Help: "EnsureWelcome outcomes.",
			},
			[]string{"outcome"},
		),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Sessions held in memory.",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessions_evicted_total",
			Help: "Sessions evicted by the idle sweeper.",
		}),
	}

	registry.MustRegister(
		m.connectionsActive,
		m.framesReceived,
		m.errorFrames,
		m.deliveries,
		m.generationDuration,
		m.welcomeOutcomes,
		m.sessionsActive,
		m.sessionsEvicted,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) FrameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ErrorFrame(class string) {
	if m != nil {
		m.errorFrames.WithLabelValues(class).Inc()
	}
}

// Delivered counts a frame handed to a connection writer.
func (m *Metrics) Delivered() {
	if m != nil {
		m.deliveries.WithLabelValues("ok").Inc()
	}
}

// DeliveryFailed counts a frame that could not be handed to or written by a connection.
func (m *Metrics) DeliveryFailed(reason string) {
	if m != nil {
		m.deliveries.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveGeneration(purpose string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.generationDuration.WithLabelValues(purpose, status).Observe(d.Seconds())
}

func (m *Metrics) WelcomeOutcome(outcome string) {
	if m != nil {
		m.welcomeOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetSessions(n int) {
	if m != nil {
		m.sessionsActive.Set(float64(n))
	}
}

func (m *Metrics) SessionsEvicted(n int) {
	if m != nil {
		m.sessionsEvicted.Add(float64(n))
	}
}
