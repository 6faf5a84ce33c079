package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors exported by the watch service and read path.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticks         *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	cacheRequests *prometheus.CounterVec
	reportSeconds *prometheus.HistogramVec
}

var (
	once     sync.Once
	registry *Metrics
)

// Default returns the process-wide metrics, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tokenscope_ticks_total",
				Help: "Scheduled watch ticks by outcome.",
			}, []string{"status"}),
			alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tokenscope_alerts_total",
				Help: "Issuance change alerts dispatched by change type.",
			}, []string{"change_type"}),
			cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tokenscope_cache_requests_total",
				Help: "Memoized report lookups by result.",
			}, []string{"result"}),
			reportSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tokenscope_report_seconds",
				Help:    "Latency of report reads including data fetch.",
				Buckets: prometheus.DefBuckets,
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			registry.ticks,
			registry.alerts,
			registry.cacheRequests,
			registry.reportSeconds,
		)
	})
	return registry
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveTick(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ticks.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveAlert(changeType string) {
	if m == nil {
		return
	}
	if changeType == "" {
		changeType = "unknown"
	}
	m.alerts.WithLabelValues(changeType).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReport(kind string, started time.Time) {
	if m == nil {
		return
	}
	m.reportSeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}
