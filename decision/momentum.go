package decision

import (
	"context"
	"fmt"
	"sync"

	"tradeguard/market"
)

const (
	defaultShortWindow = 7
	defaultLongWindow  = 25
	defaultStopPct     = 0.02
	// Crossovers inside this band are treated as noise.
	crossoverBandPct = 0.001
)

// MomentumSource emits signals from a simple moving-average crossover over
// daily closes, rotating through its symbol list one symbol per call.
type MomentumSource struct {
	feed        market.Feed
	symbols     []string
	shortWindow int
	longWindow  int
	stopPct     float64

	mu  sync.Mutex
	idx int
}

// NewMomentumSource builds a crossover source over the given symbols.
func NewMomentumSource(feed market.Feed, symbols []string) *MomentumSource {
	return &MomentumSource{
		feed:        feed,
		symbols:     symbols,
		shortWindow: defaultShortWindow,
		longWindow:  defaultLongWindow,
		stopPct:     defaultStopPct,
	}
}

// Next evaluates the next symbol in rotation. Insufficient history yields a
// HOLD rather than an error so a fresh listing never stalls the loop.
func (s *MomentumSource) Next(ctx context.Context) (Signal, error) {
	s.mu.Lock()
	if len(s.symbols) == 0 {
		s.mu.Unlock()
		return Signal{Action: ActionHold}, nil
	}
	symbol := s.symbols[s.idx%len(s.symbols)]
	s.idx++
	s.mu.Unlock()

	candles, err := s.feed.History(ctx, symbol, "1d", s.longWindow)
	if err != nil {
		return Signal{}, fmt.Errorf("history for %s: %w", symbol, err)
	}
	if len(candles) < s.longWindow {
		return Signal{Symbol: symbol, Action: ActionHold, Reasoning: "insufficient history"}, nil
	}

	shortMA := meanClose(candles[len(candles)-s.shortWindow:])
	longMA := meanClose(candles[len(candles)-s.longWindow:])

	signal := Signal{
		Symbol:                symbol,
		Action:                ActionHold,
		ProposedStopPct:       s.stopPct,
		ProposedTakeProfitPct: 2 * s.stopPct,
	}
	switch {
	case shortMA > longMA*(1+crossoverBandPct):
		signal.Action = ActionBuy
		signal.Reasoning = fmt.Sprintf("7d MA %.2f above 25d MA %.2f", shortMA, longMA)
	case shortMA < longMA*(1-crossoverBandPct):
		signal.Action = ActionSell
		signal.Reasoning = fmt.Sprintf("7d MA %.2f below 25d MA %.2f", shortMA, longMA)
	default:
		signal.Reasoning = "moving averages inside the noise band"
	}
	return signal, nil
}

func meanClose(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Close
	}
	return sum / float64(len(candles))
}
