// Package metrics exposes Prometheus collectors for calendar refreshes.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"family_dash/internal/model"
)

const namespace = "family_dash"

// Outcome labels of a feed refresh.
const (
	OutcomeOK             = "ok"
	OutcomeFetchError     = "fetch_error"
	OutcomeParseError     = "parse_error"
	OutcomeReconcileError = "reconcile_error"
	OutcomeError          = "error"
)

// Metrics holds the refresh collectors. A nil *Metrics records nothing.
type Metrics struct {
	feedRefreshes  *prometheus.CounterVec
	feedDuration   *prometheus.HistogramVec
	cachedEvents   *prometheus.GaugeVec
	derivedNotes   prometheus.Counter
	passes         *prometheus.CounterVec
	lastPassUnixTS prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		feedRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_refreshes_total",
			Help:      "Feed refreshes by outcome.",
		}, []string{"feed_id", "outcome"}),
		feedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_refresh_duration_seconds",
			Help:      "Time spent fetching, parsing and storing one feed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feed_id"}),
		cachedEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_events",
			Help:      "Events cached for a feed after its last successful refresh.",
		}, []string{"feed_id"}),
		derivedNotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derived_notes_total",
			Help:      "Notes created from todo and notes feeds.",
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_passes_total",
			Help:      "Refresh passes over all active feeds by result.",
		}, []string{"result"}),
		lastPassUnixTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_pass_timestamp_seconds",
			Help:      "Unix time the last refresh pass finished.",
		}),
	}
	reg.MustRegister(m.feedRefreshes, m.feedDuration, m.cachedEvents, m.derivedNotes, m.passes, m.lastPassUnixTS)
	return m
}

// ObserveFeed records the outcome of refreshing one feed.
func (m *Metrics) ObserveFeed(feedID int64, events, notes int, d time.Duration, err error) {
	if m == nil {
		return
	}
	id := strconv.FormatInt(feedID, 10)
	m.feedRefreshes.WithLabelValues(id, Outcome(err)).Inc()
	m.feedDuration.WithLabelValues(id).Observe(d.Seconds())
	if err == nil {
		m.cachedEvents.WithLabelValues(id).Set(float64(events))
		m.derivedNotes.Add(float64(notes))
	}
}

// ForgetFeed drops the per-feed series of a deleted feed.
func (m *Metrics) ForgetFeed(feedID int64) {
	if m == nil {
		return
	}
	id := strconv.FormatInt(feedID, 10)
	m.cachedEvents.DeleteLabelValues(id)
	m.feedDuration.DeleteLabelValues(id)
	m.feedRefreshes.DeletePartialMatch(prometheus.Labels{"feed_id": id})
}

// ObservePass records a finished refresh pass.
func (m *Metrics) ObservePass(ok bool, at time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.passes.WithLabelValues(result).Inc()
	m.lastPassUnixTS.Set(float64(at.Unix()))
}

// Outcome maps a refresh error to its label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, model.ErrFetch):
		return OutcomeFetchError
	case errors.Is(err, model.ErrParse):
		return OutcomeParseError
	case errors.Is(err, model.ErrReconcile):
		return OutcomeReconcileError
	}
	return OutcomeError
}
