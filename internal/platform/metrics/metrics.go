package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	SignIns            prometheus.Counter
	SignOuts           prometheus.Counter
	SignUpLinks        prometheus.Counter
	AuthFailures       prometheus.Counter
	ActiveControllers  prometheus.Gauge
	StaleResults       prometheus.Counter
	ProfileFeedEvents  *prometheus.CounterVec
	ProfileWrites      prometheus.Counter
	EndpointLatency    *prometheus.HistogramVec
	WebsocketSessions  prometheus.Gauge
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		SignIns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "artfolio_sign_ins_total",
			Help: "Total number of successful password sign-ins",
		}),
		SignOuts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "artfolio_sign_outs_total",
			Help: "Total number of sign-outs",
		}),
		SignUpLinks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "artfolio_sign_up_links_total",
			Help: "Total number of passwordless sign-up links dispatched",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "artfolio_auth_failures_total",
			Help: "Total number of authentication failures",
		}),
		ActiveControllers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "artfolio_active_session_controllers",
			Help: "Current number of live session controllers",
		}),
		StaleResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "artfolio_stale_results_dropped_total",
			Help: "Total number of async completions discarded by the generation guard",
		}),
		ProfileFeedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "artfolio_profile_feed_events_total",
			Help: "Total number of profile change-feed events reconciled, labeled by kind",
		}, []string{"kind"}),
		ProfileWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "artfolio_profile_writes_total",
			Help: "Total number of profile upserts and updates",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "artfolio_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		WebsocketSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "artfolio_websocket_sessions",
			Help: "Current number of open websocket clients",
		}),
	}
}

// IncrementSignIns increments the sign-in counter if metrics are enabled.
func (m *Metrics) IncrementSignIns() {
	if m != nil {
		m.SignIns.Inc()
	}
}

func (m *Metrics) IncrementSignOuts() {
	if m != nil {
		m.SignOuts.Inc()
	}
}

func (m *Metrics) IncrementSignUpLinks() {
	if m != nil {
		m.SignUpLinks.Inc()
	}
}

func (m *Metrics) IncrementAuthFailures() {
	if m != nil {
		m.AuthFailures.Inc()
	}
}

func (m *Metrics) AddActiveControllers(n int) {
	if m != nil {
		m.ActiveControllers.Add(float64(n))
	}
}

func (m *Metrics) IncrementStaleResults() {
	if m != nil {
		m.StaleResults.Inc()
	}
}

func (m *Metrics) IncrementProfileFeedEvents(kind string) {
	if m != nil {
		m.ProfileFeedEvents.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementProfileWrites() {
	if m != nil {
		m.ProfileWrites.Inc()
	}
}

// ObserveEndpointLatency records the latency for a given endpoint.
func (m *Metrics) ObserveEndpointLatency(endpoint string, durationSeconds float64) {
	if m != nil {
		m.EndpointLatency.WithLabelValues(endpoint).Observe(durationSeconds)
	}
}

func (m *Metrics) AddWebsocketSessions(n int) {
	if m != nil {
		m.WebsocketSessions.Add(float64(n))
	}
}
