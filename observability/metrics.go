package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type coreMetrics struct {
	balanceMutations *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	replaysRejected  *prometheus.CounterVec
	cleanups         prometheus.Counter
}

var (
	coreMetricsOnce sync.Once
	coreRegistry    *coreMetrics
)

// Core returns the lazily-initialised metrics registry tracking accounting
// core activity.
func Core() *coreMetrics {
	coreMetricsOnce.Do(func() {
		coreRegistry = &coreMetrics{
			balanceMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wagercore",
				Subsystem: "ledger",
				Name:      "balance_mutations_total",
				Help:      "Count of successful balance ledger mutations segmented by operation.",
			}, []string{"op"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wagercore",
				Subsystem: "settlement",
				Name:      "settlements_total",
				Help:      "Count of executed settlements segmented by outcome.",
			}, []string{"outcome"}),
			replaysRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wagercore",
				Subsystem: "idempotency",
				Name:      "replays_rejected_total",
				Help:      "Count of guarded operations rejected as replays segmented by scope.",
			}, []string{"scope"}),
			cleanups: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "wagercore",
				Subsystem: "idempotency",
				Name:      "records_cleaned_total",
				Help:      "Count of expired replay-guard records reclaimed by cleanup calls.",
			}),
		}
		prometheus.MustRegister(
			coreRegistry.balanceMutations,
			coreRegistry.settlements,
			coreRegistry.replaysRejected,
			coreRegistry.cleanups,
		)
	})
	return coreRegistry
}

// RecordBalanceMutation increments the mutation counter for the operation name.
func (m *coreMetrics) RecordBalanceMutation(op string) {
	if m == nil {
		return
	}
	m.balanceMutations.WithLabelValues(normalizeLabel(op)).Inc()
}

// RecordSettlement increments the settlement counter for the outcome tag.
func (m *coreMetrics) RecordSettlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// RecordReplayRejected increments the replay rejection counter for the scope.
func (m *coreMetrics) RecordReplayRejected(scope string) {
	if m == nil {
		return
	}
	m.replaysRejected.WithLabelValues(normalizeLabel(scope)).Inc()
}

// RecordCleanup increments the reclaimed-record counter.
func (m *coreMetrics) RecordCleanup() {
	if m == nil {
		return
	}
	m.cleanups.Inc()
}

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
