package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractor",
			Name:      "runs_total",
			Help:      "Number of extractor invocations by outcome.",
		}, []string{"country", "outcome"},
	)
	rowsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractor",
			Subsystem: "run",
			Name:      "rows_inserted_total",
			Help:      "Number of target rows inserted by successful runs.",
		}, []string{"country"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "extractor",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of locked runs, from lock to unlock.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"country"},
	)
	lastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "extractor",
			Subsystem: "run",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"country"},
	)

	collectors = []prometheus.Collector{runs, rowsInserted, runDuration, lastSuccess}
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Push sends the extractor collectors to a Pushgateway. One-shot `run`
// invocations exit before any scrape, so they push instead.
func Push(ctx context.Context, gatewayURL, country string) error {
	p := push.New(gatewayURL, "extractor").Grouping("country", country)
	for _, c := range collectors {
		p = p.Collector(c)
	}
	return p.AddContext(ctx)
}

// Helpers below no-op until Register has been called.

func ObserveRun(country, outcome string) {
	if regOK.Load() {
		runs.WithLabelValues(country, outcome).Inc()
	}
}

func ObserveSuccess(country string, rows int64, took time.Duration, at time.Time) {
	if !regOK.Load() {
		return
	}
	rowsInserted.WithLabelValues(country).Add(float64(rows))
	runDuration.WithLabelValues(country).Observe(took.Seconds())
	lastSuccess.WithLabelValues(country).Set(float64(at.Unix()))
}

func ObserveFailure(country string, took time.Duration) {
	if regOK.Load() {
		runDuration.WithLabelValues(country).Observe(took.Seconds())
	}
}
