package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type riskMetrics struct {
	priceQueries   *prometheus.CounterVec
	blockedActions *prometheus.CounterVec
	liquidations   *prometheus.CounterVec
	adminChanges   *prometheus.CounterVec
	badDebtEvents  prometheus.Counter
	badDebtUSD     prometheus.Counter
}

var (
	riskMetricsOnce sync.Once
	riskRegistry    *riskMetrics
)

// Risk returns the metrics registry tracking oracle and solvency events.
func Risk() *riskMetrics {
	riskMetricsOnce.Do(func() {
		riskRegistry = &riskMetrics{
			priceQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskcore",
				Subsystem: "oracle",
				Name:      "price_queries_total",
				Help:      "Count of price router answers segmented by severity.",
			}, []string{"severity"}),
			blockedActions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskcore",
				Subsystem: "market",
				Name:      "blocked_actions_total",
				Help:      "Count of rejected market actions segmented by action and reason.",
			}, []string{"action", "reason"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskcore",
				Subsystem: "market",
				Name:      "liquidations_total",
				Help:      "Count of liquidation executions segmented by kind.",
			}, []string{"kind"}),
			adminChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "riskcore",
				Subsystem: "admin",
				Name:      "changes_total",
				Help:      "Count of audited administrative mutations per component.",
			}, []string{"component"}),
			badDebtEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "riskcore",
				Subsystem: "market",
				Name:      "bad_debt_events_total",
				Help:      "Count of whole-account bad-debt closures.",
			}),
			badDebtUSD: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "riskcore",
				Subsystem: "market",
				Name:      "bad_debt_usd_total",
				Help:      "Cumulative socialized shortfall in USD from bad-debt closures.",
			}),
		}
		prometheus.MustRegister(
			riskRegistry.priceQueries,
			riskRegistry.blockedActions,
			riskRegistry.liquidations,
			riskRegistry.adminChanges,
			riskRegistry.badDebtEvents,
			riskRegistry.badDebtUSD,
		)
	})
	return riskRegistry
}

// ObservePriceQuery increments the severity counter for one router answer.
func (m *riskMetrics) ObservePriceQuery(severity string) {
	if m == nil {
		return
	}
	m.priceQueries.WithLabelValues(normalizeLabel(severity)).Inc()
}

// RecordBlockedAction increments the rejection counter for one action/reason
// pair, e.g. ("borrow", "insolvent").
func (m *riskMetrics) RecordBlockedAction(action, reason string) {
	if m == nil {
		return
	}
	m.blockedActions.WithLabelValues(normalizeLabel(action), normalizeLabel(reason)).Inc()
}

// RecordLiquidation increments the liquidation counter; kind is "partial"
// or "bad_debt".
func (m *riskMetrics) RecordLiquidation(kind string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(normalizeLabel(kind)).Inc()
}

// RecordAdminChange increments the audited-mutation counter per component.
func (m *riskMetrics) RecordAdminChange(component string) {
	if m == nil {
		return
	}
	m.adminChanges.WithLabelValues(normalizeLabel(component)).Inc()
}

// RecordBadDebt tallies one whole-account closure together with the USD
// shortfall it socialized across lenders.
func (m *riskMetrics) RecordBadDebt(shortfallUSD float64) {
	if m == nil {
		return
	}
	m.badDebtEvents.Inc()
	if shortfallUSD > 0 {
		m.badDebtUSD.Add(shortfallUSD)
	}
}

func normalizeLabel(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	if normalized == "" {
		normalized = "unknown"
	}
	return normalized
}
