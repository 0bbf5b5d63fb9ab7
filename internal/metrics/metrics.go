// Package metrics provides Prometheus metrics for the maze-chase service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every collector. A nil *Manager records nothing, so
// components can run without metrics wired in.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	sessionsStarted   prometheus.Counter
	sessionsEnded     *prometheus.CounterVec
	sessionsAbandoned prometheus.Counter
	statsFolds        prometheus.Counter
	personalBests     *prometheus.CounterVec
	leaderboardReads  *prometheus.CounterVec
	playersTracked    prometheus.Gauge
	pushSent          *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a manager registering on its own registry unless
// WithRegistry supplies one.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mazechase",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.sessionsStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_started_total",
		Help:      "Total number of game sessions started",
	})

	m.sessionsEnded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_ended_total",
		Help:      "Total number of game sessions ended explicitly, by terminal status",
	}, []string{"status"})

	m.sessionsAbandoned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sessions_superseded_total",
		Help:      "Total number of open sessions abandoned because a new one started",
	})

	m.statsFolds = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "stats_folds_total",
		Help:      "Total number of finished sessions folded into user stats",
	})

	m.personalBests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "personal_bests_total",
		Help:      "Total number of personal bests, by metric",
	}, []string{"metric"})

	m.leaderboardReads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "leaderboard_queries_total",
		Help:      "Total number of leaderboard pages served, by category",
	}, []string{"category"})

	m.playersTracked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "players_tracked",
		Help:      "Number of players with a stats record, as of the last leaderboard query",
	})

	m.pushSent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "push_notifications_total",
		Help:      "Web push deliveries, by outcome",
	}, []string{"outcome"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

func (m *Manager) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Manager) SessionEnded(status string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(status).Inc()
}

// SessionSuperseded counts the implicit abandon performed by a new start.
func (m *Manager) SessionSuperseded() {
	if m == nil {
		return
	}
	m.sessionsAbandoned.Inc()
}

func (m *Manager) StatsFolded() {
	if m == nil {
		return
	}
	m.statsFolds.Inc()
}

func (m *Manager) PersonalBest(metric string) {
	if m == nil {
		return
	}
	m.personalBests.WithLabelValues(metric).Inc()
}

// LeaderboardQueried counts a served page and records the player count it saw.
func (m *Manager) LeaderboardQueried(category string, totalPlayers int) {
	if m == nil {
		return
	}
	m.leaderboardReads.WithLabelValues(category).Inc()
	m.playersTracked.Set(float64(totalPlayers))
}

func (m *Manager) PushSent(outcome string) {
	if m == nil {
		return
	}
	m.pushSent.WithLabelValues(outcome).Inc()
}

// HTTPRequest records one served request.
func (m *Manager) HTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Registry returns the registry the collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
