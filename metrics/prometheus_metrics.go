//go:build metrics

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	BackendUnknown  = "unknown"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

var (
	sizingFractionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sizing_fraction_of_capital",
		Help: "sizing.fraction – most recent clamped fraction of capital",
	})

	riskDrawdownGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "risk_drawdown",
		Help: "risk.drawdown – percentage drawdown from peak equity",
	}, []string{"agent_id"})

	validationRejectionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_validation_rejections_total",
		Help: "risk.validation_rejections – trades blocked by a fatal bound violation",
	}, []string{"agent_id"})

	validationWarningsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_validation_warnings_total",
		Help: "risk.validation_warnings – non-blocking soft-bound findings",
	}, []string{"agent_id"})

	camouflageResamplesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camouflage_resamples_total",
		Help: "camouflage.resamples – candidates rejected for looking round",
	})

	camouflageFallbacksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camouflage_fallbacks_total",
		Help: "camouflage.fallbacks – deterministic micro-offset fallbacks after resample cap",
	})

	positionsOpenedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "positions_opened_total",
		Help: "ledger.opened – positions accepted into the ledger",
	}, []string{"symbol"})

	positionsClosedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "positions_closed_total",
		Help: "ledger.closed – positions closed, labeled by exit reason",
	}, []string{"symbol", "reason"})

	openPositionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "positions_open",
		Help: "ledger.open – currently open position count",
	}, []string{"agent_id"})

	trailingStopRatchetsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trailing_stop_ratchets_total",
		Help: "ledger.trailing_ratchets – trailing stop tightenings applied",
	}, []string{"symbol"})

	monitorCycleLatencyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "monitor_cycle_latency_ms",
		Help: "monitor.cycle_latency_ms – duration of the latest monitoring pass",
	}, []string{"agent_id"})

	priceFeedFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "price_feed_failures_total",
		Help: "market.feed_failures – price fetches that failed or timed out",
	}, []string{"symbol"})

	executionFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "execution_failures_total",
		Help: "execution.failures – order submissions that failed or timed out",
	}, []string{"agent_id"})

	persistenceAttemptsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "persistence_attempts_total",
		Help: "db.persistence_attempts – attempts to persist ledger state",
	}, []string{"agent_id"})

	persistenceFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "persistence_failures_total",
		Help: "db.persistence_failures – errors persisting ledger state",
	}, []string{"agent_id"})

	persistLatencyGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "persist_latency_ms",
		Help: "db.persist_latency_ms – time spent persisting ledger state",
	}, []string{"agent_id"})
)

func init() {
	prometheus.MustRegister(
		sizingFractionGauge,
		riskDrawdownGauge,
		validationRejectionsCounter,
		validationWarningsCounter,
		camouflageResamplesCounter,
		camouflageFallbacksCounter,
		positionsOpenedCounter,
		positionsClosedCounter,
		openPositionsGauge,
		trailingStopRatchetsCounter,
		monitorCycleLatencyGauge,
		priceFeedFailuresCounter,
		executionFailuresCounter,
		persistenceAttemptsCounter,
		persistenceFailuresCounter,
		persistLatencyGauge,
	)
}

func ObserveSizingFraction(fraction float64) {
	sizingFractionGauge.Set(fraction)
}

func ObserveRiskDrawdown(agentID string, pct float64) {
	riskDrawdownGauge.WithLabelValues(agentID).Set(pct)
}

func IncValidationRejections(agentID string) {
	validationRejectionsCounter.WithLabelValues(agentID).Inc()
}

func IncValidationWarnings(agentID string) {
	validationWarningsCounter.WithLabelValues(agentID).Inc()
}

func AddCamouflageResamples(count float64) {
	camouflageResamplesCounter.Add(count)
}

func IncCamouflageFallbacks() {
	camouflageFallbacksCounter.Inc()
}

func IncPositionsOpened(symbol string) {
	positionsOpenedCounter.WithLabelValues(symbol).Inc()
}

func IncPositionsClosed(symbol, reason string) {
	positionsClosedCounter.WithLabelValues(symbol, reason).Inc()
}

func SetOpenPositions(agentID string, count int) {
	openPositionsGauge.WithLabelValues(agentID).Set(float64(count))
}

func IncTrailingStopRatchets(symbol string) {
	trailingStopRatchetsCounter.WithLabelValues(symbol).Inc()
}

func ObserveMonitorCycleLatency(agentID string, duration time.Duration) {
	monitorCycleLatencyGauge.WithLabelValues(agentID).Set(duration.Seconds() * 1000)
}

func IncPriceFeedFailures(symbol string) {
	priceFeedFailuresCounter.WithLabelValues(symbol).Inc()
}

func IncExecutionFailures(agentID string) {
	executionFailuresCounter.WithLabelValues(agentID).Inc()
}

func IncPersistenceAttempts(agentID string) {
	persistenceAttemptsCounter.WithLabelValues(agentID).Inc()
}

func IncPersistenceFailures(agentID string) {
	persistenceFailuresCounter.WithLabelValues(agentID).Inc()
}

func ObservePersistLatency(agentID string, duration time.Duration) {
	persistLatencyGauge.WithLabelValues(agentID).Set(duration.Seconds() * 1000)
}
