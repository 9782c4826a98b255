package forwarder

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the worker's Prometheus counters.
type Metrics struct {
	forwarded   prometheus.Counter
	pushFailed  prometheus.Counter
	readFailed  prometheus.Counter
	pushLatency prometheus.Histogram
}

// NewMetrics registers the forwarder metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tutorhub_worker_events_forwarded_total",
			Help: "Session events pushed to Loki.",
		}),
		pushFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tutorhub_worker_push_failures_total",
			Help: "Loki pushes that failed.",
		}),
		readFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tutorhub_worker_read_errors_total",
			Help: "Kafka reads that failed.",
		}),
		pushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutorhub_worker_push_latency_seconds",
			Help:    "Loki push latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.forwarded, m.pushFailed, m.readFailed, m.pushLatency)
	return m
}

func (m *Metrics) pushed(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.pushLatency.Observe(d.Seconds())
	if err != nil {
		m.pushFailed.Inc()
		return
	}
	m.forwarded.Inc()
}

func (m *Metrics) readError() {
	if m == nil {
		return
	}
	m.readFailed.Inc()
}

// Handler serves /metrics for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
