package decision

import (
	"context"
	"testing"
	"time"

	"tradeguard/market"
)

type stubFeed struct {
	candles map[string][]market.Candle
}

func (f *stubFeed) Price(ctx context.Context, symbol string) (float64, error) {
	return 0, market.ErrUnavailable
}

func (f *stubFeed) History(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return f.candles[symbol], nil
}

func candlesWith(early, late float64, n, lateCount int) []market.Candle {
	candles := make([]market.Candle, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		price := early
		if i >= n-lateCount {
			price = late
		}
		candles[i] = market.Candle{OpenTime: base.AddDate(0, 0, i), Close: price}
	}
	return candles
}

func TestMomentumSourceSignals(t *testing.T) {
	tests := []struct {
		name       string
		candles    []market.Candle
		wantAction string
	}{
		// Recent closes well above the older ones: short MA leads.
		{"uptrend buys", candlesWith(100, 120, 25, 7), ActionBuy},
		{"downtrend sells", candlesWith(120, 100, 25, 7), ActionSell},
		{"flat holds", candlesWith(100, 100, 25, 7), ActionHold},
		{"short history holds", candlesWith(100, 120, 10, 5), ActionHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := &stubFeed{candles: map[string][]market.Candle{"BTCUSDT": tt.candles}}
			source := NewMomentumSource(feed, []string{"BTCUSDT"})

			signal, err := source.Next(context.Background())
			if err != nil {
				t.Fatalf("next failed: %v", err)
			}
			if signal.Action != tt.wantAction {
				t.Fatalf("action = %q, want %q (%s)", signal.Action, tt.wantAction, signal.Reasoning)
			}
			if signal.IsActionable() && signal.ProposedStopPct <= 0 {
				t.Fatal("actionable signal without a stop")
			}
		})
	}
}

func TestMomentumSourceRotatesSymbols(t *testing.T) {
	feed := &stubFeed{candles: map[string][]market.Candle{
		"BTCUSDT": candlesWith(100, 120, 25, 7),
		"ETHUSDT": candlesWith(120, 100, 25, 7),
	}}
	source := NewMomentumSource(feed, []string{"BTCUSDT", "ETHUSDT"})

	first, _ := source.Next(context.Background())
	second, _ := source.Next(context.Background())
	third, _ := source.Next(context.Background())

	if first.Symbol != "BTCUSDT" || second.Symbol != "ETHUSDT" || third.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected rotation: %s, %s, %s", first.Symbol, second.Symbol, third.Symbol)
	}
}

func TestSourceFuncAdapter(t *testing.T) {
	src := SourceFunc(func(ctx context.Context) (Signal, error) {
		return Signal{Symbol: "BTCUSDT", Action: ActionBuy}, nil
	})
	signal, err := src.Next(context.Background())
	if err != nil || signal.Action != ActionBuy {
		t.Fatalf("adapter failed: %+v, %v", signal, err)
	}
}
