/**
 * @description
 * Prometheus collectors for the renewal loop and the ledger. Both binaries register the
 * same collectors on their own registry and expose it through promhttp.
 */
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/locallum/blockchain-subscription-service/internal/domain"
)

const namespace = "subscription"

// Settlement outcomes recorded per operation.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeReverted  = "reverted"
	OutcomeTimeout   = "timeout"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics groups every collector the services export.
type Metrics struct {
	registry *prometheus.Registry

	Sweeps             prometheus.Counter
	SweepDuration      prometheus.Histogram
	SettlementRequests *prometheus.CounterVec
	LedgerRecords      *prometheus.GaugeVec
	LedgerWriteFailure prometheus.Counter
}

// New registers the collectors on a fresh registry together with the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Renewal sweeps executed.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a renewal sweep.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		SettlementRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_requests_total",
			Help:      "Settlement requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		LedgerRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_records",
			Help:      "Ledger records by lifecycle state at the last sweep.",
		}, []string{"state"}),
		LedgerWriteFailure: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_write_failures_total",
			Help:      "Ledger writes that failed after the chain confirmed a transaction.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSweep records one finished sweep. Safe on a nil receiver.
func (m *Metrics) ObserveSweep(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Sweeps.Inc()
	m.SweepDuration.Observe(elapsed.Seconds())
}

// ObserveSettlement counts a settlement request outcome. Safe on a nil receiver.
func (m *Metrics) ObserveSettlement(operation, outcome string) {
	if m == nil {
		return
	}
	m.SettlementRequests.WithLabelValues(operation, outcome).Inc()
}

// ObserveLedgerWriteFailure counts a write lost after a confirmed settlement.
func (m *Metrics) ObserveLedgerWriteFailure() {
	if m == nil {
		return
	}
	m.LedgerWriteFailure.Inc()
}

// ObserveLedger sets the per-state gauges from a ledger snapshot.
func (m *Metrics) ObserveLedger(records []domain.Subscription, now time.Time) {
	if m == nil {
		return
	}
	counts := map[string]float64{
		"active":          0,
		"claimable":       0,
		"claimed":         0,
		"cancelled":       0,
		"renewal_pending": 0,
		"abandoned":       0,
	}
	for _, r := range records {
		if r.IsActive {
			counts["active"]++
		}
		if r.IsClaimable(now) {
			counts["claimable"]++
		}
		if r.IsClaimed {
			counts["claimed"]++
		}
		if r.IsCancelled {
			counts["cancelled"]++
		}
		if r.NeedsRenewal() {
			counts["renewal_pending"]++
		}
		if r.IsAbandoned() {
			counts["abandoned"]++
		}
	}
	for state, n := range counts {
		m.LedgerRecords.WithLabelValues(state).Set(n)
	}
}
