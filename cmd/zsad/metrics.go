// metrics.go - Prometheus metrics for the zsad node
package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "zsad"

// Metrics holds the collectors of the node on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	bundlesBuilt      *prometheus.CounterVec
	bundlesApplied    *prometheus.CounterVec
	issuanceVerified  *prometheus.CounterVec
	trialDecryptions  prometheus.Counter
	errorCount        *prometheus.CounterVec
	proofGeneration   prometheus.Histogram
	circuitSetup      prometheus.Histogram
	ledgerCommitments prometheus.Gauge
}

// NewMetrics registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bundlesBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_built_total",
			Help:      "Bundles built, by kind.",
		}, []string{"kind"}),
		bundlesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_applied_total",
			Help:      "Bundles submitted to the ledger, by kind and result.",
		}, []string{"kind", "result"}),
		issuanceVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issuance_verifications_total",
			Help:      "Issue bundle verifications, by result.",
		}, []string{"result"}),
		trialDecryptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trial_decryptions_total",
			Help:      "Outputs trial-decrypted by wallets.",
		}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors, by type.",
		}, []string{"type"}),
		proofGeneration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proof_generation_seconds",
			Help:      "Time to prove one bundle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		circuitSetup: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "circuit_setup_seconds",
			Help:      "Time to compile the action circuit and load or generate its keys.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		ledgerCommitments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_commitments",
			Help:      "Note commitments in the ledger tree.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.bundlesBuilt, m.bundlesApplied, m.issuanceVerified, m.trialDecryptions,
		m.errorCount, m.proofGeneration, m.circuitSetup, m.ledgerCommitments,
	)
	return m
}

// Serve exposes the registry on addr until the returned server is shut down.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

// Gather returns the current samples.
func (m *Metrics) Gather() (int, error) {
	families, err := m.registry.Gather()
	return len(families), err
}

func (m *Metrics) RecordBundleBuilt(kind string) { m.bundlesBuilt.WithLabelValues(kind).Inc() }

func (m *Metrics) RecordBundleApplied(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.bundlesApplied.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordIssuanceVerification(err error) {
	if err != nil {
		m.issuanceVerified.WithLabelValues("rejected").Inc()
		return
	}
	m.issuanceVerified.WithLabelValues("ok").Inc()
}

func (m *Metrics) RecordTrialDecryptions(n int) { m.trialDecryptions.Add(float64(n)) }

func (m *Metrics) RecordProofGeneration(d time.Duration) { m.proofGeneration.Observe(d.Seconds()) }

func (m *Metrics) RecordCircuitSetup(d time.Duration) { m.circuitSetup.Observe(d.Seconds()) }

func (m *Metrics) SetLedgerCommitments(n int) { m.ledgerCommitments.Set(float64(n)) }

func (m *Metrics) RecordError(errorType string) { m.errorCount.WithLabelValues(errorType).Inc() }
