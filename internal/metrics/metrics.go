// Package metrics exposes prometheus collectors of the ledger pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tally"

// Metrics groups the collectors updated by engines.
type Metrics struct {
	importedRows   *prometheus.CounterVec
	importFailures *prometheus.CounterVec
	mergedTxns     prometheus.Counter
	snapshots      prometheus.Counter
	networthDays   prometheus.Counter
	providerCalls  *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	cursor         *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		importedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_rows_total",
			Help:      "Source rows imported, by parser.",
		}, []string{"parser"}),
		importFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_failures_total",
			Help:      "Aborted imports, by parser.",
		}, []string{"parser"}),
		mergedTxns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merged_transactions_total",
			Help:      "Transactions synthesized by the merge engine.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_snapshots_saved_total",
			Help:      "Daily balance snapshots persisted.",
		}),
		networthDays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "networth_days_saved_total",
			Help:      "Daily networth records persisted.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_provider_requests_total",
			Help:      "Price provider requests, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of engine passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engine"}),
		cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_timestamp_ms",
			Help:      "Persisted cursor of a derived series.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.importedRows,
			m.importFailures,
			m.mergedTxns,
			m.snapshots,
			m.networthDays,
			m.providerCalls,
			m.passDuration,
			m.cursor,
		)
	}

	return m
}

// ImportedRows counts rows of a successful import.
func (m *Metrics) ImportedRows(parser string, n int) {
	if m == nil {
		return
	}
	m.importedRows.WithLabelValues(parser).Add(float64(n))
}

// ImportFailed counts an aborted import.
func (m *Metrics) ImportFailed(parser string) {
	if m == nil {
		return
	}
	m.importFailures.WithLabelValues(parser).Inc()
}

// Merged counts merged transactions.
func (m *Metrics) Merged(n int) {
	if m == nil {
		return
	}
	m.mergedTxns.Add(float64(n))
}

// SnapshotsSaved counts persisted balance snapshots.
func (m *Metrics) SnapshotsSaved(n int) {
	if m == nil {
		return
	}
	m.snapshots.Add(float64(n))
}

// NetworthSaved counts persisted networth days.
func (m *Metrics) NetworthSaved(n int) {
	if m == nil {
		return
	}
	m.networthDays.Add(float64(n))
}

// ProviderCall records the outcome of one price provider request.
func (m *Metrics) ProviderCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
}

// ObservePass records how long an engine pass took.
func (m *Metrics) ObservePass(engine string, started time.Time) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(engine).Observe(time.Since(started).Seconds())
}

// Cursor publishes a cursor value.
func (m *Metrics) Cursor(kind string, value int64) {
	if m == nil {
		return
	}
	m.cursor.WithLabelValues(kind).Set(float64(value))
}
