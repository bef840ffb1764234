package risk

import (
	"fmt"
	"log"
	"math"

	"tradeguard/metrics"
)

// fractionEpsilon absorbs float noise when checking the clamped fraction
// against its bounds.
const fractionEpsilon = 1e-9

// Validator gates proposed orders against portfolio- and trade-level risk
// bounds. Each check yields either a fatal violation (blocks the trade) or a
// warning (logged, non-blocking). The validator never corrects an input; an
// out-of-bounds value is surfaced, not silently clamped, so upstream bugs
// stay visible.
type Validator struct {
	agentID string
	bounds  Bounds
}

// NewValidator builds a validator for an agent. Zero bounds fall back to
// defaults.
func NewValidator(agentID string, bounds Bounds) *Validator {
	return &Validator{agentID: agentID, bounds: normalizeBounds(bounds)}
}

func normalizeBounds(b Bounds) Bounds {
	d := DefaultBounds()
	if b.MinPositionFraction <= 0 {
		b.MinPositionFraction = d.MinPositionFraction
	}
	if b.MaxPositionFraction <= 0 {
		b.MaxPositionFraction = d.MaxPositionFraction
	}
	if b.MinStopDistancePct <= 0 {
		b.MinStopDistancePct = d.MinStopDistancePct
	}
	if b.MaxStopDistancePct <= 0 {
		b.MaxStopDistancePct = d.MaxStopDistancePct
	}
	if b.MaxLeverage <= 0 {
		b.MaxLeverage = d.MaxLeverage
	}
	if b.MaxDrawdownTarget <= 0 {
		b.MaxDrawdownTarget = d.MaxDrawdownTarget
	}
	if b.RiskOffFractionCeiling <= 0 {
		b.RiskOffFractionCeiling = d.RiskOffFractionCeiling
	}
	return b
}

// Bounds returns the active guard rails.
func (v *Validator) Bounds() Bounds {
	return v.bounds
}

// Validate runs every check against the candidate. The returned Result has
// Approved == false when at least one fatal violation was found; callers must
// not proceed to camouflage or execution in that case.
func (v *Validator) Validate(c Candidate, portfolio PortfolioState) Result {
	result := Result{}

	fraction := 0.0
	if portfolio.Capital > 0 {
		fraction = c.PositionSizeUSD / portfolio.Capital
	}

	// Defensive double-check of the sizer's clamping.
	if fraction < v.bounds.MinPositionFraction-fractionEpsilon ||
		fraction > v.bounds.MaxPositionFraction+fractionEpsilon {
		result.FatalViolations = append(result.FatalViolations, fmt.Sprintf(
			"position fraction %.4f outside [%.4f, %.4f]",
			fraction, v.bounds.MinPositionFraction, v.bounds.MaxPositionFraction))
	}

	stopDistance := 0.0
	if c.EntryPrice > 0 {
		stopDistance = math.Abs(c.EntryPrice-c.StopLossPrice) / c.EntryPrice
		if stopDistance > v.bounds.MaxStopDistancePct {
			result.FatalViolations = append(result.FatalViolations, fmt.Sprintf(
				"stop distance %.2f%% above ceiling %.2f%%",
				stopDistance*100, v.bounds.MaxStopDistancePct*100))
		} else if stopDistance < v.bounds.MinStopDistancePct {
			result.FatalViolations = append(result.FatalViolations, fmt.Sprintf(
				"stop distance %.2f%% below floor %.2f%%",
				stopDistance*100, v.bounds.MinStopDistancePct*100))
		}

		if wrongSide(c.Direction, c.EntryPrice, c.StopLossPrice) {
			result.FatalViolations = append(result.FatalViolations, fmt.Sprintf(
				"%s stop %.4f on the wrong side of entry %.4f",
				c.Direction, c.StopLossPrice, c.EntryPrice))
		}
	} else {
		result.FatalViolations = append(result.FatalViolations,
			fmt.Sprintf("non-positive entry price %.4f", c.EntryPrice))
	}

	if portfolio.Capital > 0 {
		exposure := (portfolio.OpenExposureUSD + c.PositionSizeUSD) / portfolio.Capital
		if exposure > v.bounds.MaxLeverage {
			result.FatalViolations = append(result.FatalViolations, fmt.Sprintf(
				"portfolio exposure %.2fx above max leverage %.2fx",
				exposure, v.bounds.MaxLeverage))
		}
	} else {
		result.FatalViolations = append(result.FatalViolations,
			fmt.Sprintf("non-positive capital %.2f", portfolio.Capital))
	}

	// The drawdown target is a soft target, not a circuit breaker.
	if portfolio.Capital > 0 && stopDistance > 0 {
		tradeDrawdown := c.PositionSizeUSD * stopDistance / portfolio.Capital
		if portfolio.ModeledDrawdownPct+tradeDrawdown > v.bounds.MaxDrawdownTarget {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"modeled drawdown %.1f%% + trade risk %.1f%% exceeds target %.1f%%",
				portfolio.ModeledDrawdownPct*100, tradeDrawdown*100, v.bounds.MaxDrawdownTarget*100))
		}
	}

	// A RISK_OFF regime paired with a risk-on sized fraction points at an
	// upstream sizing bug; it should be visible, not silently corrected.
	if c.Regime == "RISK_OFF" && fraction > v.bounds.RiskOffFractionCeiling+fractionEpsilon {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"fraction %.4f above RISK_OFF ceiling %.4f", fraction, v.bounds.RiskOffFractionCeiling))
	}

	result.Approved = len(result.FatalViolations) == 0

	for _, w := range result.Warnings {
		metrics.IncValidationWarnings(v.agentID)
		log.Printf("⚠️  risk warning [%s %s]: %s", c.Symbol, c.Direction, w)
	}
	if !result.Approved {
		metrics.IncValidationRejections(v.agentID)
		for _, violation := range result.FatalViolations {
			log.Printf("❌ risk rejection [%s %s]: %s", c.Symbol, c.Direction, violation)
		}
	}
	return result
}

func wrongSide(direction string, entry, stop float64) bool {
	switch direction {
	case "BUY":
		return stop >= entry
	case "SELL":
		return stop <= entry
	default:
		return true
	}
}
