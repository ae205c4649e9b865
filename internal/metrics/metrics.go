// Package metrics provides Prometheus metrics for the refresh pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "podcatch"

// Outcomes of a single feed in a refresh.
const (
	OutcomeStored  = "stored"
	OutcomeCached  = "cached"
	OutcomeNetwork = "network_error"
	OutcomeParse   = "parse_error"
	OutcomeStore   = "store_error"
)

// Metrics is safe to use through a nil pointer, in which case nothing is recorded.
type Metrics struct {
	reg prometheus.Registerer

	feedsTotal      *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	refreshTotal    prometheus.Counter
	refreshDuration prometheus.Histogram
	episodesStored  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		feedsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feeds_total",
				Help:      "Feeds processed by refreshes, by outcome",
			},
			[]string{"outcome"},
		),
		fetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of feed fetches in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		refreshTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Total number of completed refreshes",
			},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of whole refreshes in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		episodesStored: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "episodes_stored_total",
				Help:      "Episodes written by refreshes",
			},
		),
	}
}

// RecordFeed records how one feed of a refresh went.
func (m *Metrics) RecordFeed(outcome string, fetch time.Duration, episodes int) {
	if m == nil {
		return
	}

	m.feedsTotal.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(fetch.Seconds())
	if outcome == OutcomeStored {
		m.episodesStored.Add(float64(episodes))
	}
}

// RecordRefresh records a finished refresh.
func (m *Metrics) RecordRefresh(d time.Duration) {
	if m == nil {
		return
	}

	m.refreshTotal.Inc()
	m.refreshDuration.Observe(d.Seconds())
}

// Gauge exports the value of fn, read at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}

	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	)
}
