package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one verifier instance. Each
// instance owns its registry so tests and batch runs do not share state.
type Metrics struct {
	Registry *prometheus.Registry

	verdictsTotal     *prometheus.CounterVec
	verifyDuration    prometheus.Histogram
	ledgerErrorsTotal prometheus.Counter
	anchorErrorsTotal prometheus.Counter
}

// NewMetrics registers the verifier collectors on a fresh registry.
// withRuntime adds the Go and process collectors, which only make sense for
// a long-running server.
func NewMetrics(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		verdictsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pcclite_verdicts_total",
				Help: "Total number of verdicts emitted",
			},
			[]string{"kind", "reason", "gate"},
		),
		verifyDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pcclite_verify_duration_seconds",
				Help:    "Verification duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		ledgerErrorsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pcclite_ledger_errors_total",
				Help: "Total number of failed ledger appends",
			},
		),
		anchorErrorsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pcclite_anchor_errors_total",
				Help: "Total number of anchor snapshot load failures",
			},
		),
	}
}

// ObserveVerdict records one verdict. reason and gate are empty for receipts.
func (m *Metrics) ObserveVerdict(kind, reason, gate string, d time.Duration) {
	if m == nil {
		return
	}
	m.verdictsTotal.WithLabelValues(kind, reason, gate).Inc()
	m.verifyDuration.Observe(d.Seconds())
}

// ObserveLedgerError records a failed ledger append.
func (m *Metrics) ObserveLedgerError() {
	if m == nil {
		return
	}
	m.ledgerErrorsTotal.Inc()
}

// ObserveAnchorError records a failed anchor load.
func (m *Metrics) ObserveAnchorError() {
	if m == nil {
		return
	}
	m.anchorErrorsTotal.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// WriteTextfile writes the registry for the node_exporter textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
