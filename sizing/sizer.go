package sizing

import (
	"context"
	"log"
	"math"

	"tradeguard/metrics"
	"tradeguard/regime"
)

// Bounds are the configurable limits applied by the sizer.
type Bounds struct {
	KellyDampener       float64
	RiskOnMultiplier    float64
	RiskOffMultiplier   float64
	MinPositionFraction float64
	MaxPositionFraction float64
}

// DefaultBounds mirrors the quarter-Kelly configuration the strategy was
// calibrated with.
func DefaultBounds() Bounds {
	return Bounds{
		KellyDampener:       0.25,
		RiskOnMultiplier:    1.5,
		RiskOffMultiplier:   0.5,
		MinPositionFraction: 0.05,
		MaxPositionFraction: 0.25,
	}
}

func normalizeBounds(b Bounds) Bounds {
	d := DefaultBounds()
	if b.KellyDampener <= 0 {
		b.KellyDampener = d.KellyDampener
	}
	if b.RiskOnMultiplier <= 0 {
		b.RiskOnMultiplier = d.RiskOnMultiplier
	}
	if b.RiskOffMultiplier <= 0 {
		b.RiskOffMultiplier = d.RiskOffMultiplier
	}
	if b.MinPositionFraction <= 0 {
		b.MinPositionFraction = d.MinPositionFraction
	}
	if b.MaxPositionFraction <= 0 || b.MaxPositionFraction < b.MinPositionFraction {
		b.MaxPositionFraction = d.MaxPositionFraction
	}
	return b
}

// Input carries everything a single sizing decision depends on.
type Input struct {
	Capital     float64
	WinRate     float64
	AvgWinPct   float64
	AvgLossPct  float64
	StopLossPct float64
	Regime      regime.State
}

// Result is the sizing decision with its intermediate terms exposed for
// logging and validation.
type Result struct {
	PositionSizeUSD   float64
	FractionOfCapital float64
	KellyRaw          float64
	KellyFractional   float64
	RegimeMultiplier  float64
}

// TradeRecord is a closed trade as retained for Kelly re-estimation.
type TradeRecord struct {
	EntryPrice float64
	ExitPrice  float64
	Direction  string
	PnLPct     float64
}

// HistoryProvider supplies the trailing closed trades the sizer refreshes
// its Kelly inputs from.
type HistoryProvider interface {
	RecentClosedTrades(ctx context.Context, limit int) ([]TradeRecord, error)
}

// Stats are history-derived Kelly inputs.
type Stats struct {
	WinRate     float64
	AvgWinPct   float64
	AvgLossPct  float64
	TotalTrades int
}

// NeutralStats are the assumptions used when no trade history exists yet.
func NeutralStats() Stats {
	return Stats{WinRate: 0.55, AvgWinPct: 0.05, AvgLossPct: 0.03}
}

// Sizer computes capital-bounded position sizes from a dampened Kelly
// fraction adjusted by market regime. Size is total: every input is clamped
// rather than rejected, so garbage bounds violations are the validator's
// problem, not the sizer's.
type Sizer struct {
	bounds Bounds
}

// NewSizer builds a sizer, normalizing zero or inverted bounds to defaults.
func NewSizer(bounds Bounds) *Sizer {
	return &Sizer{bounds: normalizeBounds(bounds)}
}

// Bounds returns the active limits.
func (s *Sizer) Bounds() Bounds {
	return s.bounds
}

// KellyRaw computes the undampened Kelly fraction K = W - (1-W)/R with
// R = avgWin/avgLoss. It is 0 when the payoff ratio is undefined.
func KellyRaw(winRate, avgWinPct, avgLossPct float64) float64 {
	if avgLossPct <= 0 || avgWinPct <= 0 {
		return 0
	}
	ratio := avgWinPct / avgLossPct
	return winRate - (1-winRate)/ratio
}

// Size turns Kelly inputs and the regime into a bounded sizing decision.
// The returned fraction is always inside [MinPositionFraction,
// MaxPositionFraction].
func (s *Sizer) Size(in Input) Result {
	raw := KellyRaw(clamp01(in.WinRate), in.AvgWinPct, in.AvgLossPct)

	// Negative edge never produces a negative size; it floors at zero and
	// ends up at the minimum fraction after clamping.
	fractional := math.Max(0, raw) * s.bounds.KellyDampener

	multiplier := s.bounds.RiskOffMultiplier
	if in.Regime.IsRiskOn() {
		multiplier = s.bounds.RiskOnMultiplier
	}

	fraction := fractional * multiplier
	if fraction < s.bounds.MinPositionFraction {
		fraction = s.bounds.MinPositionFraction
	}
	if fraction > s.bounds.MaxPositionFraction {
		fraction = s.bounds.MaxPositionFraction
	}

	capital := math.Max(0, in.Capital)
	result := Result{
		PositionSizeUSD:   capital * fraction,
		FractionOfCapital: fraction,
		KellyRaw:          raw,
		KellyFractional:   fractional,
		RegimeMultiplier:  multiplier,
	}
	metrics.ObserveSizingFraction(result.FractionOfCapital)
	return result
}

// RefreshStats recomputes win rate and average win/loss percentages from the
// trailing closed trades. This is the explicit pull-based feedback step: the
// caller fetches fresh stats before each sizing decision instead of the
// monitor mutating shared sizer state.
func RefreshStats(ctx context.Context, history HistoryProvider, limit int) Stats {
	if history == nil {
		return NeutralStats()
	}
	if limit <= 0 {
		limit = 50
	}

	trades, err := history.RecentClosedTrades(ctx, limit)
	if err != nil {
		log.Printf("⚠️  sizing: trade history unavailable, using neutral stats: %v", err)
		return NeutralStats()
	}
	return StatsFromTrades(trades)
}

// StatsFromTrades derives Kelly inputs from closed trades. Empty history and
// one-sided history fall back to the neutral assumptions for the missing
// side, matching the strategy's bootstrap behavior.
func StatsFromTrades(trades []TradeRecord) Stats {
	if len(trades) == 0 {
		return NeutralStats()
	}

	var wins, losses []float64
	for _, tr := range trades {
		pnl := tr.PnLPct
		if pnl == 0 && tr.EntryPrice > 0 {
			pnl = (tr.ExitPrice - tr.EntryPrice) / tr.EntryPrice * 100
			if tr.Direction == "SELL" {
				pnl = -pnl
			}
		}
		if pnl > 0 {
			wins = append(wins, pnl)
		} else {
			losses = append(losses, pnl)
		}
	}

	neutral := NeutralStats()
	stats := Stats{TotalTrades: len(trades)}
	stats.WinRate = float64(len(wins)) / float64(len(trades))

	if len(wins) > 0 {
		stats.AvgWinPct = mean(wins) / 100
	} else {
		stats.AvgWinPct = neutral.AvgWinPct
	}
	if len(losses) > 0 {
		stats.AvgLossPct = math.Abs(mean(losses)) / 100
	} else {
		stats.AvgLossPct = neutral.AvgLossPct
	}
	return stats
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
