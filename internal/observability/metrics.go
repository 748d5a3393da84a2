// Package observability provides Prometheus metrics for Amri.
// All metrics live on a custom registry; no global state.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector holds all Prometheus metrics for Amri.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Safety classification metrics.
	ClassificationsTotal *prometheus.CounterVec

	// Command execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Sandbox session lifecycle metrics.
	SandboxSessionsTotal *prometheus.CounterVec

	// Command generation metrics.
	GenerationsTotal  *prometheus.CounterVec
	CacheLookupsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a fresh registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "safety",
			Name:      "classifications_total",
			Help:      "Commands classified, by risk tier.",
		}, []string{"tier"}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "exec",
			Name:      "executions_total",
			Help:      "Commands executed, by destination and status.",
		}, []string{"destination", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amri",
			Subsystem: "exec",
			Name:      "duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
		}, []string{"destination"}),

		SandboxSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "sandbox",
			Name:      "sessions_total",
			Help:      "Sandbox session lifecycle events (created, reused, teardown, oneshot).",
		}, []string{"event"}),

		GenerationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "Command generation requests, by status.",
		}, []string{"status"}),

		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amri",
			Subsystem: "llm",
			Name:      "cache_lookups_total",
			Help:      "Generation cache lookups, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		m.ClassificationsTotal,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.SandboxSessionsTotal,
		m.GenerationsTotal,
		m.CacheLookupsTotal,
	)
	return m
}

// Serve exposes /metrics on addr until ctx is cancelled. Intended to be run
// in its own goroutine; a closed listener is not reported as an error.
func (m *MetricsCollector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
