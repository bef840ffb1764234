package risk

import "time"

// Bounds defines the guard rails the validator enforces.
type Bounds struct {
	MinPositionFraction float64
	MaxPositionFraction float64
	MinStopDistancePct  float64
	MaxStopDistancePct  float64
	MaxLeverage         float64
	MaxDrawdownTarget   float64
	// RiskOffFractionCeiling is the largest fraction that looks plausible
	// under the risk-off multiplier; larger fractions in a RISK_OFF regime
	// are flagged as an upstream sizing inconsistency.
	RiskOffFractionCeiling float64
}

// DefaultBounds mirrors the strategy's calibrated limits.
func DefaultBounds() Bounds {
	return Bounds{
		MinPositionFraction:    0.05,
		MaxPositionFraction:    0.25,
		MinStopDistancePct:     0.005,
		MaxStopDistancePct:     0.10,
		MaxLeverage:            2.0,
		MaxDrawdownTarget:      0.45,
		RiskOffFractionCeiling: 0.125,
	}
}

// Candidate is a proposed order awaiting validation, before camouflage.
type Candidate struct {
	Symbol          string
	Direction       string // "BUY" or "SELL"
	EntryPrice      float64
	StopLossPrice   float64
	PositionSizeUSD float64
	Regime          string // "RISK_ON" or "RISK_OFF"
}

// PortfolioState is the snapshot of exposure the validator checks against.
type PortfolioState struct {
	Capital            float64
	OpenExposureUSD    float64
	ModeledDrawdownPct float64 // cumulative modeled drawdown, 0.45 == 45%
}

// Result reports the validation outcome. A candidate with any fatal
// violation must never reach camouflage or execution.
type Result struct {
	Approved        bool
	FatalViolations []string
	Warnings        []string
}

// Snapshot is a read-only view of the tracked equity state for an agent.
type Snapshot struct {
	CurrentEquity float64
	PeakEquity    float64
	DrawdownPct   float64
	LastUpdated   time.Time
}

// PersistFunc allows plugging persistence for equity state changes.
type PersistFunc func(agentID string, snapshot Snapshot) error
