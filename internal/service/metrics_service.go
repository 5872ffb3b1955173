package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the lifecycle
// engine and the change feed.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	cascadeDuration prometheus.Observer
	cascadeClosed   prometheus.Counter
	cascadeFailed   prometheus.Counter
	feedEvents      *prometheus.CounterVec
	feedSubscribers *prometheus.GaugeVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_transitions_total",
		Help: "Total assignment state transitions by edge",
	}, []string{"from", "to"})

	cascadeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "completion_cascade_duration_seconds",
		Help:    "Duration of completion cascades",
		Buckets: prometheus.DefBuckets,
	})

	cascadeClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "completion_cascade_highlights_total",
		Help: "Total highlights turned gold by completion cascades",
	})

	cascadeFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "completion_cascade_failures_total",
		Help: "Total completion cascades rolled back",
	})

	feedEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_events_published_total",
		Help: "Change events published to the feed",
	}, []string{"entity", "kind"})

	feedSubscribers := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feed_subscribers",
		Help: "Currently attached feed subscribers by scope kind",
	}, []string{"scope_kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitionTotal,
		cascadeDuration, cascadeClosed, cascadeFailed, feedEvents, feedSubscribers, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitionTotal: transitionTotal,
		cascadeDuration: cascadeDuration,
		cascadeClosed:   cascadeClosed,
		cascadeFailed:   cascadeFailed,
		feedEvents:      feedEvents,
		feedSubscribers: feedSubscribers,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveTransition counts one applied state-machine edge.
func (m *MetricsService) ObserveTransition(from, to models.AssignmentStatus) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveCascade records cascade timing and how many highlights closed.
func (m *MetricsService) ObserveCascade(duration time.Duration, closed int) {
	if m == nil {
		return
	}
	m.cascadeDuration.Observe(duration.Seconds())
	m.cascadeClosed.Add(float64(closed))
}

// ObserveCascadeFailure counts one rolled-back cascade.
func (m *MetricsService) ObserveCascadeFailure() {
	if m == nil {
		return
	}
	m.cascadeFailed.Inc()
}

// ObserveFeedEvent counts one published change event.
func (m *MetricsService) ObserveFeedEvent(entity models.EntityType, kind models.EventKind) {
	if m == nil {
		return
	}
	m.feedEvents.WithLabelValues(string(entity), string(kind)).Inc()
}

// SetFeedSubscribers tracks attached subscriber counts per scope kind.
func (m *MetricsService) SetFeedSubscribers(kind models.ScopeKind, count int) {
	if m == nil {
		return
	}
	m.feedSubscribers.WithLabelValues(string(kind)).Set(float64(count))
}
