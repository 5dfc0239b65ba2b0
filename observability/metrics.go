package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reflex"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	stakingMetricsOnce sync.Once
	stakingRegistry    *StakingMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record API
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks reflective ledger activity.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	feesTaken  prometheus.Counter
}

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including lock wait.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			feesTaken: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "fee_transfers_total",
				Help:      "Count of committed transfers that paid a non-zero fee.",
			}),
		}
		prometheus.MustRegister(ledgerRegistry.operations, ledgerRegistry.latency, ledgerRegistry.feesTaken)
	})
	return ledgerRegistry
}

// Observe records a ledger operation outcome.
func (m *LedgerMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := normaliseLabel(operation)
	m.operations.WithLabelValues(op, outcomeLabel(err)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordFee counts a committed transfer that paid a fee.
func (m *LedgerMetrics) RecordFee() {
	if m == nil {
		return
	}
	m.feesTaken.Inc()
}

// StakingMetrics tracks the staking engine and its yield adapter.
type StakingMetrics struct {
	operations      *prometheus.CounterVec
	adapterCalls    *prometheus.CounterVec
	adapterLatency  *prometheus.HistogramVec
	totalLocked     prometheus.Gauge
	deployedShares  prometheus.Gauge
	mismatches      prometheus.Counter
	reconciliations *prometheus.CounterVec
}

// Staking returns the singleton staking metrics registry.
func Staking() *StakingMetrics {
	stakingMetricsOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "staking",
				Name:      "operations_total",
				Help:      "Staking operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			adapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "staking",
				Name:      "adapter_calls_total",
				Help:      "Yield adapter round-trips segmented by call and outcome.",
			}, []string{"call", "outcome"}),
			adapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "staking",
				Name:      "adapter_call_duration_seconds",
				Help:      "Latency distribution for yield adapter calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"call"}),
			totalLocked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "staking",
				Name:      "total_locked",
				Help:      "Total locked principal in true units.",
			}),
			deployedShares: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "staking",
				Name:      "deployed_shares",
				Help:      "Principal the engine believes is held by the yield strategy.",
			}),
			mismatches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "staking",
				Name:      "deployed_shares_mismatch_total",
				Help:      "Detected faults where tracked deployed shares exceed the strategy balance.",
			}),
			reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "staking",
				Name:      "reconciliations_total",
				Help:      "Explicit deployed share reconciliations segmented by mode.",
			}, []string{"mode"}),
		}
		prometheus.MustRegister(
			stakingRegistry.operations,
			stakingRegistry.adapterCalls,
			stakingRegistry.adapterLatency,
			stakingRegistry.totalLocked,
			stakingRegistry.deployedShares,
			stakingRegistry.mismatches,
			stakingRegistry.reconciliations,
		)
	})
	return stakingRegistry
}

// Observe records a staking operation outcome.
func (m *StakingMetrics) Observe(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(normaliseLabel(operation), outcomeLabel(err)).Inc()
}

// ObserveAdapter records a yield adapter round-trip.
func (m *StakingMetrics) ObserveAdapter(call string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	c := normaliseLabel(call)
	m.adapterCalls.WithLabelValues(c, outcomeLabel(err)).Inc()
	m.adapterLatency.WithLabelValues(c).Observe(duration.Seconds())
}

// SetTotals publishes the locked principal and deployed share gauges.
func (m *StakingMetrics) SetTotals(locked, deployed *big.Int) {
	if m == nil {
		return
	}
	m.totalLocked.Set(bigToFloat(locked))
	m.deployedShares.Set(bigToFloat(deployed))
}

// RecordMismatch increments the deployed share fault counter.
func (m *StakingMetrics) RecordMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}

// RecordReconciliation counts an explicit reconciliation by mode.
func (m *StakingMetrics) RecordReconciliation(mode string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(normaliseLabel(mode)).Inc()
}

// OracleMetrics tracks price feed health.
type OracleMetrics struct {
	fetches     *prometheus.CounterVec
	priceAge    prometheus.Gauge
	unavailable prometheus.Counter
}

// Oracle returns the singleton oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "fetches_total",
				Help:      "Price lookups segmented by source and outcome.",
			}, []string{"source", "outcome"}),
			priceAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age of the most recently served price.",
			}),
			unavailable: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "unavailable_total",
				Help:      "Count of lookups where neither feed produced a fresh price.",
			}),
		}
		prometheus.MustRegister(oracleRegistry.fetches, oracleRegistry.priceAge, oracleRegistry.unavailable)
	})
	return oracleRegistry
}

// RecordFetch records a lookup against the named source.
func (m *OracleMetrics) RecordFetch(source string, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(normaliseLabel(source), outcomeLabel(err)).Inc()
}

// RecordServed publishes the age of the price handed to the caller.
func (m *OracleMetrics) RecordServed(age time.Duration) {
	if m == nil {
		return
	}
	if age < 0 {
		age = 0
	}
	m.priceAge.Set(age.Seconds())
}

// RecordUnavailable counts a lookup that failed on both feeds.
func (m *OracleMetrics) RecordUnavailable() {
	if m == nil {
		return
	}
	m.unavailable.Inc()
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
