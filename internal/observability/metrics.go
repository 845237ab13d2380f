// Package observability — metrics.go
//
// Prometheus metrics for the process triage agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback by default; the --metrics-addr flag accepts any address.
//
// Metric naming convention: pt_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Action/class labels use the string name (at most 8 actions, 4 classes).
//   - PID is NOT used as a label (unbounded cardinality).
//   - Per-run totals are aggregated before recording.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the triage agent.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Scan ─────────────────────────────────────────────────────────────────

	// CandidatesScannedTotal counts processes enumerated from /proc per run.
	CandidatesScannedTotal prometheus.Counter

	// CandidatesFilteredTotal counts candidates removed by the protected
	// filter before inference, by match stage (pid, ppid, username, comm,
	// cmd).
	CandidatesFilteredTotal *prometheus.CounterVec

	// ScanDuration records wall-clock time spent enumerating /proc.
	ScanDuration prometheus.Histogram

	// ─── Inference ────────────────────────────────────────────────────────────

	// InferencesTotal counts completed belief updates, by MAP classification.
	InferencesTotal *prometheus.CounterVec

	// PosteriorConfidence records the posterior mass on the MAP class.
	PosteriorConfidence prometheus.Histogram

	// ─── Decision ─────────────────────────────────────────────────────────────

	// DecisionsTotal counts myopic policy outcomes, by chosen action.
	DecisionsTotal *prometheus.CounterVec

	// ConstraintOverridesTotal counts decisions where a gate narrowed the
	// unconstrained optimum, by the gate that fired.
	ConstraintOverridesTotal *prometheus.CounterVec

	// FDRSignificantFraction records the fraction of a batch that survived
	// the Benjamini-Hochberg step-up procedure.
	FDRSignificantFraction prometheus.Histogram

	// ─── Execution ────────────────────────────────────────────────────────────

	// ActionsExecutedTotal counts executor outcomes, by action and success.
	ActionsExecutedTotal *prometheus.CounterVec

	// ActionDuration records executor.Execute latency, by action.
	ActionDuration *prometheus.HistogramVec

	// ReversalsTotal counts recorded reversal metadata entries, by action.
	ReversalsTotal *prometheus.CounterVec

	// ─── Constraint stack ─────────────────────────────────────────────────────

	// AlphaWealthRemaining is the current alpha-investing ledger balance.
	AlphaWealthRemaining prometheus.Gauge

	// RateLimitBlocksTotal counts actions blocked by the sliding-window rate limiter gate.
	RateLimitBlocksTotal prometheus.Counter

	// ─── Session ──────────────────────────────────────────────────────────────

	// SessionArtifactsWrittenTotal counts persisted artifacts, by kind
	// (inventory, inference, plan, run_metadata).
	SessionArtifactsWrittenTotal *prometheus.CounterVec

	// ─── Agent ────────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	// startTime records when the agent started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all triage-agent Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		CandidatesScannedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "scan",
			Name:      "candidates_total",
			Help:      "Total processes enumerated from /proc across all runs.",
		}),

		CandidatesFilteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "scan",
			Name:      "filtered_total",
			Help:      "Total candidates removed by the protected filter, by match stage.",
		}, []string{"stage"}),

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall-clock time spent enumerating /proc per run.",
			Buckets:   prometheus.DefBuckets,
		}),

		InferencesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "total",
			Help:      "Total belief updates completed, by MAP classification.",
		}, []string{"class"}),

		PosteriorConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "posterior_confidence",
			Help:      "Posterior probability mass on the MAP class.",
			Buckets:   []float64{0.25, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99, 1.0},
		}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "decision",
			Name:      "total",
			Help:      "Total myopic policy decisions, by chosen action.",
		}, []string{"action"}),

		ConstraintOverridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "decision",
			Name:      "constraint_overrides_total",
			Help:      "Total decisions narrowed by a constraint gate, by gate name.",
		}, []string{"gate"}),

		FDRSignificantFraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "decision",
			Name:      "fdr_significant_fraction",
			Help:      "Fraction of a decision batch surviving the Benjamini-Hochberg threshold.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		ActionsExecutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "execution",
			Name:      "actions_total",
			Help:      "Total executor outcomes, by action and success.",
		}, []string{"action", "success"}),

		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "execution",
			Name:      "action_duration_seconds",
			Help:      "Executor.Execute latency, by action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),

		ReversalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "execution",
			Name:      "reversals_total",
			Help:      "Total reversal metadata entries recorded, by action.",
		}, []string{"action"}),

		AlphaWealthRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "constraints",
			Name:      "alpha_wealth_remaining",
			Help:      "Current alpha-investing ledger balance.",
		}),

		RateLimitBlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "constraints",
			Name:      "rate_limit_blocks_total",
			Help:      "Total actions blocked by the rate limiter gate.",
		}),

		SessionArtifactsWrittenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "session",
			Name:      "artifacts_written_total",
			Help:      "Total persisted session artifacts, by kind.",
		}, []string{"kind"}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.CandidatesScannedTotal,
		m.CandidatesFilteredTotal,
		m.ScanDuration,
		m.InferencesTotal,
		m.PosteriorConfidence,
		m.DecisionsTotal,
		m.ConstraintOverridesTotal,
		m.FDRSignificantFraction,
		m.ActionsExecutedTotal,
		m.ActionDuration,
		m.ReversalsTotal,
		m.AlphaWealthRemaining,
		m.RateLimitBlocksTotal,
		m.SessionArtifactsWrittenTotal,
		m.AgentUptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
// Returns an error only if the server fails to start or encounters a fatal error.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}

// RecordRun folds the outcome of one pipeline run into the gauges/counters
// that aren't naturally incremented inline during the run (alpha wealth
// balance, FDR significant fraction).
func (m *Metrics) RecordRun(alphaWealthRemaining float64, fdrSignificantFraction float64) {
	m.AlphaWealthRemaining.Set(alphaWealthRemaining)
	m.FDRSignificantFraction.Observe(fdrSignificantFraction)
}
