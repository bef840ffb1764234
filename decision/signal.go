// Package decision defines the trade signals the pipeline consumes. Signals
// only propose direction and stop placement; sizing and validation happen
// downstream and may shrink or reject what a source asks for.
package decision

import "context"

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Signal is one trade proposal for a symbol.
type Signal struct {
	Symbol string `json:"symbol"`
	Action string `json:"action"` // "BUY", "SELL" or "HOLD"
	// ProposedStopPct is the stop distance the source wants, as a fraction
	// of entry (0.02 == 2%).
	ProposedStopPct float64 `json:"proposed_stop_pct"`
	// ProposedTakeProfitPct is optional; 0 means no take profit leg.
	ProposedTakeProfitPct float64 `json:"proposed_take_profit_pct,omitempty"`
	Confidence            int     `json:"confidence,omitempty"` // 0-100
	Reasoning             string  `json:"reasoning,omitempty"`
}

// IsActionable reports whether the signal asks for a new position.
func (s Signal) IsActionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}

// Source produces signals for the agent loop. Implementations range from
// rule-based generators to operator consoles; the pipeline does not care.
type Source interface {
	Next(ctx context.Context) (Signal, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context) (Signal, error)

func (f SourceFunc) Next(ctx context.Context) (Signal, error) {
	return f(ctx)
}
