package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFeed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordFeed(OutcomeStored, time.Second, 3)
	m.RecordFeed(OutcomeStored, time.Second, 2)
	m.RecordFeed(OutcomeParse, time.Second, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.feedsTotal.WithLabelValues(OutcomeStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedsTotal.WithLabelValues(OutcomeParse)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.episodesStored))
}

func TestGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	var v float64 = 3
	m.Gauge("fetches_in_flight", "Feed fetches currently running", func() float64 { return v })

	const want = `
# HELP podcatch_fetches_in_flight Feed fetches currently running
# TYPE podcatch_fetches_in_flight gauge
podcatch_fetches_in_flight 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "podcatch_fetches_in_flight"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordFeed(OutcomeCached, time.Second, 0)
		m.RecordRefresh(time.Second)
		m.Gauge("x", "x", func() float64 { return 0 })
	})
}
