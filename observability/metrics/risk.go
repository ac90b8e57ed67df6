package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RiskMetrics tracks risk-engine activity: mutating operations by outcome,
// liquidation volume and the current interest index.
type RiskMetrics struct {
	operations    *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	interestIndex prometheus.Gauge
}

var (
	riskOnce     sync.Once
	riskRegistry *RiskMetrics

	oracleOnce     sync.Once
	oracleRegistry *OracleMetrics
)

// Risk returns the lazily-initialised risk engine metrics registry.
func Risk() *RiskMetrics {
	riskOnce.Do(func() {
		riskRegistry = &RiskMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendcore",
				Subsystem: "risk",
				Name:      "operations_total",
				Help:      "Count of risk engine operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendcore",
				Subsystem: "risk",
				Name:      "liquidations_total",
				Help:      "Count of liquidation attempts segmented by outcome.",
			}, []string{"outcome"}),
			interestIndex: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendcore",
				Subsystem: "risk",
				Name:      "interest_index",
				Help:      "Current global borrow interest index, WAD scaled.",
			}),
		}
		prometheus.MustRegister(
			riskRegistry.operations,
			riskRegistry.liquidations,
			riskRegistry.interestIndex,
		)
	})
	return riskRegistry
}

// ObserveOperation records one engine operation result.
func (m *RiskMetrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

// ObserveLiquidation records one liquidation attempt result.
func (m *RiskMetrics) ObserveLiquidation(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.liquidations.WithLabelValues(outcome).Inc()
}

// SetInterestIndex publishes the current interest index. Precision above
// float64 is irrelevant for dashboards.
func (m *RiskMetrics) SetInterestIndex(index *big.Int) {
	if m == nil || index == nil {
		return
	}
	value, _ := new(big.Float).SetInt(index).Float64()
	m.interestIndex.Set(value)
}

// OracleMetrics tracks price resolution behaviour.
type OracleMetrics struct {
	fallbacks *prometheus.CounterVec
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendcore",
				Subsystem: "oracle",
				Name:      "fallback_total",
				Help:      "Count of reads resolved from the fallback feed segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(oracleRegistry.fallbacks)
	})
	return oracleRegistry
}

// ObserveFallback records one read that bypassed the primary feed.
func (m *OracleMetrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}
