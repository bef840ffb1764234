package regime

import (
	"errors"
	"fmt"
	"time"
)

// State labels for the coarse market-trend classification.
const (
	RiskOn  = "RISK_ON"
	RiskOff = "RISK_OFF"
)

// ErrInsufficientData is returned when the price series is shorter than the
// trend period. Callers must treat this as "unknown regime" and skip the
// cycle rather than assuming RISK_ON.
var ErrInsufficientData = errors.New("insufficient price history for trend calculation")

// PricePoint is a single observation in a chronological price series.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// State is the transient result of a regime classification. It is derived
// fresh on every call and never persisted.
type State struct {
	Regime                   string
	ReferencePrice           float64
	CurrentPrice             float64
	DistanceFromReferencePct float64
}

// IsRiskOn reports whether the state classifies as above-trend.
func (s State) IsRiskOn() bool {
	return s.Regime == RiskOn
}

// Classifier classifies the market regime from the position of the current
// price relative to a long moving average. The classification is memoryless:
// no hysteresis is applied, so flapping near the average is expected and
// accepted.
type Classifier struct {
	trendPeriod int
}

// NewClassifier builds a classifier with the given trend period (number of
// trailing observations in the moving average). Non-positive periods fall
// back to the 200-observation default.
func NewClassifier(trendPeriod int) *Classifier {
	if trendPeriod <= 0 {
		trendPeriod = 200
	}
	return &Classifier{trendPeriod: trendPeriod}
}

// TrendPeriod returns the configured moving-average window.
func (c *Classifier) TrendPeriod() int {
	return c.trendPeriod
}

// Classify computes the trailing simple moving average over the trend period
// and places the latest price relative to it. The series must be
// chronological; only the final trendPeriod points are used.
func (c *Classifier) Classify(series []PricePoint) (State, error) {
	if len(series) < c.trendPeriod {
		return State{}, fmt.Errorf("%w: have %d points, need %d", ErrInsufficientData, len(series), c.trendPeriod)
	}

	window := series[len(series)-c.trendPeriod:]
	sum := 0.0
	for _, p := range window {
		sum += p.Price
	}
	ma := sum / float64(c.trendPeriod)
	current := series[len(series)-1].Price

	state := State{
		Regime:         RiskOff,
		ReferencePrice: ma,
		CurrentPrice:   current,
	}
	if current > ma {
		state.Regime = RiskOn
	}
	if ma != 0 {
		state.DistanceFromReferencePct = (current - ma) / ma * 100
	}
	return state, nil
}
