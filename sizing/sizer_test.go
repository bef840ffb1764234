package sizing

import (
	"context"
	"errors"
	"math"
	"testing"

	"tradeguard/regime"
)

func riskOnState() regime.State {
	return regime.State{Regime: regime.RiskOn, ReferencePrice: 100, CurrentPrice: 110}
}

func riskOffState() regime.State {
	return regime.State{Regime: regime.RiskOff, ReferencePrice: 100, CurrentPrice: 90}
}

func TestKellyRawReferenceValue(t *testing.T) {
	// K = 0.55 - 0.45/(0.08/0.04) = 0.325
	got := KellyRaw(0.55, 0.08, 0.04)
	if math.Abs(got-0.325) > 1e-9 {
		t.Fatalf("expected kelly 0.325, got %.6f", got)
	}
}

func TestKellyRawUndefinedRatio(t *testing.T) {
	if got := KellyRaw(0.55, 0.08, 0); got != 0 {
		t.Fatalf("expected 0 for zero avg loss, got %.6f", got)
	}
	if got := KellyRaw(0.55, 0, 0.04); got != 0 {
		t.Fatalf("expected 0 for zero avg win, got %.6f", got)
	}
}

func TestSizeEndToEndScenario(t *testing.T) {
	s := NewSizer(DefaultBounds())
	res := s.Size(Input{
		Capital:     10000,
		WinRate:     0.55,
		AvgWinPct:   0.08,
		AvgLossPct:  0.04,
		StopLossPct: 0.03,
		Regime:      riskOnState(),
	})

	// 0.325 * 0.25 * 1.5 = 0.121875, inside [0.05, 0.25]
	if math.Abs(res.FractionOfCapital-0.121875) > 1e-9 {
		t.Fatalf("expected fraction 0.121875, got %.6f", res.FractionOfCapital)
	}
	if math.Abs(res.PositionSizeUSD-1218.75) > 1e-6 {
		t.Fatalf("expected size $1218.75, got %.4f", res.PositionSizeUSD)
	}
	if res.RegimeMultiplier != 1.5 {
		t.Fatalf("expected RISK_ON multiplier 1.5, got %.2f", res.RegimeMultiplier)
	}
}

func TestSizeRiskOffSmallerThanRiskOn(t *testing.T) {
	s := NewSizer(DefaultBounds())
	in := Input{Capital: 10000, WinRate: 0.55, AvgWinPct: 0.08, AvgLossPct: 0.04, StopLossPct: 0.03}

	in.Regime = riskOnState()
	on := s.Size(in)
	in.Regime = riskOffState()
	off := s.Size(in)

	if off.FractionOfCapital >= on.FractionOfCapital {
		t.Fatalf("RISK_OFF fraction %.6f should be strictly below RISK_ON %.6f",
			off.FractionOfCapital, on.FractionOfCapital)
	}
	if off.RegimeMultiplier != 0.5 {
		t.Fatalf("expected RISK_OFF multiplier 0.5, got %.2f", off.RegimeMultiplier)
	}
}

func TestSizeClampingIsTotal(t *testing.T) {
	s := NewSizer(DefaultBounds())
	cases := []Input{
		{Capital: 10000, WinRate: 0, AvgWinPct: 0.01, AvgLossPct: 0.5, Regime: riskOffState()},
		{Capital: 10000, WinRate: 1, AvgWinPct: 10, AvgLossPct: 0.0001, Regime: riskOnState()},
		{Capital: 10000, WinRate: -5, AvgWinPct: -1, AvgLossPct: -1, Regime: riskOnState()},
		{Capital: 10000, WinRate: 2, AvgWinPct: 0, AvgLossPct: 0, Regime: riskOffState()},
		{Capital: 0, WinRate: 0.9, AvgWinPct: 0.2, AvgLossPct: 0.01, Regime: riskOnState()},
	}

	b := s.Bounds()
	for i, in := range cases {
		res := s.Size(in)
		if res.FractionOfCapital < b.MinPositionFraction || res.FractionOfCapital > b.MaxPositionFraction {
			t.Fatalf("case %d: fraction %.6f outside [%.2f, %.2f]",
				i, res.FractionOfCapital, b.MinPositionFraction, b.MaxPositionFraction)
		}
		if res.PositionSizeUSD < 0 {
			t.Fatalf("case %d: negative size %.4f", i, res.PositionSizeUSD)
		}
	}
}

func TestSizeNegativeKellyFloorsAtZero(t *testing.T) {
	s := NewSizer(DefaultBounds())
	res := s.Size(Input{Capital: 10000, WinRate: 0.2, AvgWinPct: 0.02, AvgLossPct: 0.08, Regime: riskOnState()})

	if res.KellyRaw >= 0 {
		t.Fatalf("expected negative raw kelly, got %.6f", res.KellyRaw)
	}
	if res.KellyFractional != 0 {
		t.Fatalf("expected fractional kelly floored at 0, got %.6f", res.KellyFractional)
	}
	if res.FractionOfCapital != s.Bounds().MinPositionFraction {
		t.Fatalf("expected minimum fraction, got %.6f", res.FractionOfCapital)
	}
}

func TestNewSizerNormalizesBounds(t *testing.T) {
	s := NewSizer(Bounds{})
	if s.Bounds() != DefaultBounds() {
		t.Fatalf("zero bounds should normalize to defaults, got %+v", s.Bounds())
	}

	s = NewSizer(Bounds{MinPositionFraction: 0.3, MaxPositionFraction: 0.1})
	if s.Bounds().MaxPositionFraction < s.Bounds().MinPositionFraction {
		t.Fatalf("inverted bounds not normalized: %+v", s.Bounds())
	}
}

func TestStatsFromTrades(t *testing.T) {
	trades := []TradeRecord{
		{EntryPrice: 100, ExitPrice: 108, Direction: "BUY", PnLPct: 8},
		{EntryPrice: 100, ExitPrice: 96, Direction: "BUY", PnLPct: -4},
		{EntryPrice: 100, ExitPrice: 108, Direction: "BUY", PnLPct: 8},
		{EntryPrice: 100, ExitPrice: 96, Direction: "BUY", PnLPct: -4},
	}

	stats := StatsFromTrades(trades)
	if stats.WinRate != 0.5 {
		t.Fatalf("expected win rate 0.5, got %.4f", stats.WinRate)
	}
	if math.Abs(stats.AvgWinPct-0.08) > 1e-9 {
		t.Fatalf("expected avg win 0.08, got %.6f", stats.AvgWinPct)
	}
	if math.Abs(stats.AvgLossPct-0.04) > 1e-9 {
		t.Fatalf("expected avg loss 0.04, got %.6f", stats.AvgLossPct)
	}
	if stats.TotalTrades != 4 {
		t.Fatalf("expected 4 trades counted, got %d", stats.TotalTrades)
	}
}

func TestStatsFromTradesDerivesPnLFromPrices(t *testing.T) {
	trades := []TradeRecord{
		{EntryPrice: 200, ExitPrice: 190, Direction: "SELL"}, // short win: +5%
	}
	stats := StatsFromTrades(trades)
	if stats.WinRate != 1 {
		t.Fatalf("short covered below entry should count as a win, got win rate %.2f", stats.WinRate)
	}
	if math.Abs(stats.AvgWinPct-0.05) > 1e-9 {
		t.Fatalf("expected derived avg win 0.05, got %.6f", stats.AvgWinPct)
	}
}

func TestStatsFromTradesEmptyHistory(t *testing.T) {
	if got := StatsFromTrades(nil); got != NeutralStats() {
		t.Fatalf("expected neutral stats for empty history, got %+v", got)
	}
}

type failingHistory struct{}

func (failingHistory) RecentClosedTrades(context.Context, int) ([]TradeRecord, error) {
	return nil, errors.New("store offline")
}

type fixedHistory struct{ trades []TradeRecord }

func (f fixedHistory) RecentClosedTrades(_ context.Context, limit int) ([]TradeRecord, error) {
	if limit < len(f.trades) {
		return f.trades[:limit], nil
	}
	return f.trades, nil
}

func TestRefreshStats(t *testing.T) {
	if got := RefreshStats(context.Background(), nil, 50); got != NeutralStats() {
		t.Fatalf("nil provider should yield neutral stats, got %+v", got)
	}
	if got := RefreshStats(context.Background(), failingHistory{}, 50); got != NeutralStats() {
		t.Fatalf("failing provider should yield neutral stats, got %+v", got)
	}

	h := fixedHistory{trades: []TradeRecord{{EntryPrice: 100, ExitPrice: 110, Direction: "BUY", PnLPct: 10}}}
	got := RefreshStats(context.Background(), h, 50)
	if got.WinRate != 1 || got.TotalTrades != 1 {
		t.Fatalf("unexpected refreshed stats: %+v", got)
	}
}
