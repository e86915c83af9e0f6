// Package observability exposes engine counters as Prometheus metrics.
// The capture callback only bumps atomics; a poller mirrors them here so
// the hot path never touches the metrics registry.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/b08x/omega-13/internal/logging"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	DroppedBatches        prometheus.Gauge
	LiveQueueDepth        prometheus.Gauge
	InputRMSDB            prometheus.Gauge
	RecordingsStarted     prometheus.Counter
	RecordingsCompleted   prometheus.Counter
	RecordingsDiscarded   prometheus.Counter
	RecordingsFailed      prometheus.Counter
	TranscriptionAttempts prometheus.Gauge
	TranscriptionFailures prometheus.Gauge

	logger *slog.Logger
}

// NewMetrics builds and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		DroppedBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omega13", Name: "capture_dropped_batches_total",
			Help: "Live-queue batches dropped by the capture callback.",
		}),
		LiveQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omega13", Name: "live_queue_depth",
			Help: "Batches currently resident in the live queue.",
		}),
		InputRMSDB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omega13", Name: "input_rms_db",
			Help: "Most recent input RMS level in dBFS.",
		}),
		RecordingsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omega13", Name: "recordings_started_total",
			Help: "Recordings started.",
		}),
		RecordingsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omega13", Name: "recordings_completed_total",
			Help: "Recordings retained in the session.",
		}),
		RecordingsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omega13", Name: "recordings_discarded_total",
			Help: "Recordings discarded below the energy floor.",
		}),
		RecordingsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omega13", Name: "recordings_failed_total",
			Help: "Recordings that failed during writing.",
		}),
		TranscriptionAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omega13", Name: "transcription_attempts_total",
			Help: "Transcription HTTP attempts, including retries.",
		}),
		TranscriptionFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omega13", Name: "transcription_failures_total",
			Help: "Transcription jobs with a terminal failure.",
		}),
		logger: logging.ForService("observability"),
	}
	registry.MustRegister(
		m.DroppedBatches, m.LiveQueueDepth, m.InputRMSDB,
		m.RecordingsStarted, m.RecordingsCompleted,
		m.RecordingsDiscarded, m.RecordingsFailed,
		m.TranscriptionAttempts, m.TranscriptionFailures,
	)
	return m
}

// Serve runs the /metrics listener until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.logger.Info("metrics listener started", "listen", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("metrics listener failed", "error", err)
	}
}
