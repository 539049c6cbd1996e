package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/bridge"
)

// Metrics exports sync run results to Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	read           prometheus.Counter
	decodeFailures prometheus.Counter
	deliveries     *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	duration       prometheus.Histogram
	lastRun        *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpbridge_sync_runs_total",
			Help: "Sync runs by outcome.",
		}, []string{"outcome"}),
		read: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpbridge_records_read_total",
			Help: "Measurements read from the device.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpbridge_decode_failures_total",
			Help: "Stored records that could not be decoded.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpbridge_deliveries_total",
			Help: "Records per sink by result: delivered, duplicate, known or failed.",
		}, []string{"sink", "result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpbridge_delivery_attempts_total",
			Help: "Delivery calls per sink, retries included.",
		}, []string{"sink"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bpbridge_sync_duration_seconds",
			Help:    "Wall time of a sync run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bpbridge_last_sync_timestamp_seconds",
			Help: "Unix time of the last sync run by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.runs, m.read, m.decodeFailures, m.deliveries, m.attempts, m.duration, m.lastRun)
	return m
}

// Observe records a finished run. Dry runs are not counted.
func (m *Metrics) Observe(r *bridge.Report) {
	if r == nil || r.DryRun {
		return
	}
	outcome := string(r.Outcome())
	m.runs.WithLabelValues(outcome).Inc()
	m.read.Add(float64(r.Read))
	m.decodeFailures.Add(float64(r.DecodeFailures))
	if !r.Finished.IsZero() {
		m.duration.Observe(r.Finished.Sub(r.Started).Seconds())
		m.lastRun.WithLabelValues(outcome).Set(float64(r.Finished.Unix()))
	}

	for pair := r.Sinks.Oldest(); pair != nil; pair = pair.Next() {
		s, sr := string(pair.Key), pair.Value
		m.deliveries.WithLabelValues(s, "delivered").Add(float64(sr.Delivered - sr.Duplicates))
		m.deliveries.WithLabelValues(s, "duplicate").Add(float64(sr.Duplicates))
		m.deliveries.WithLabelValues(s, "known").Add(float64(sr.Known))
		m.deliveries.WithLabelValues(s, "failed").Add(float64(sr.Failed))
		m.attempts.WithLabelValues(s).Add(float64(sr.Attempts))
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
