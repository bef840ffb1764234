package position

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tradeguard/featureflag"
	"tradeguard/metrics"
)

const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"

	ExitStopLoss     = "STOP_LOSS"
	ExitTakeProfit   = "TAKE_PROFIT"
	ExitTrailingStop = "TRAILING_STOP"
	ExitManual       = "MANUAL"
)

var (
	// ErrDuplicateActivePosition signals an open attempt while the symbol
	// already has an OPEN position.
	ErrDuplicateActivePosition = errors.New("symbol already has an active position")
	// ErrNotOpen signals a close or update against a position that is not
	// OPEN (typically a double close).
	ErrNotOpen = errors.New("position is not open")
)

// Position is the lifecycle record for a single trade. Status moves OPEN →
// CLOSED exactly once; there is no way back.
type Position struct {
	ID              string
	AgentID         string
	Symbol          string
	Direction       string // "BUY" or "SELL"
	Quantity        float64
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64

	// TrailingStopPrice is 0 until the trailing stop activates; once set it
	// only ratchets in the position's favor.
	TrailingStopPrice float64
	// BestPrice is the most favorable mark seen since entry.
	BestPrice float64

	Status         string
	OpenedAt       time.Time
	ClosedAt       time.Time
	ExitReason     string
	ExitPrice      float64
	RealizedPnLUSD float64
	RealizedPnLPct float64
}

// UnrealizedPnLUSD marks the position to price.
func (p Position) UnrealizedPnLUSD(price float64) float64 {
	return UnrealizedPnL(p.Direction, p.EntryPrice, price, p.Quantity)
}

// UnrealizedPnL computes mark-to-market profit in USD for either direction.
func UnrealizedPnL(direction string, entry, price, quantity float64) float64 {
	if direction == "SELL" {
		return (entry - price) * quantity
	}
	return (price - entry) * quantity
}

// TrailingConfig controls when the trailing stop arms and how far it trails.
type TrailingConfig struct {
	// ActivationPct is the unrealized gain (as a fraction of entry) required
	// before the trailing stop arms.
	ActivationPct float64
	// TrailDistancePct is the distance from the best price at which the
	// trailing stop sits once armed.
	TrailDistancePct float64
}

// DefaultTrailingConfig arms the trail at +2% and follows 1.5% behind.
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{ActivationPct: 0.02, TrailDistancePct: 0.015}
}

// PersistFunc allows plugging persistence for position state changes.
type PersistFunc func(p Position) error

// OpenParams carries everything needed to record a fresh position.
type OpenParams struct {
	Symbol          string
	Direction       string
	Quantity        float64
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// ExitSignal is the ledger's verdict when a mark price is evaluated.
type ExitSignal struct {
	Triggered bool
	Reason    string
	Price     float64
}

// Ledger tracks one agent's positions: at most one OPEN position per symbol,
// trailing-stop ratcheting, and the OPEN → CLOSED transition with realized
// PnL. All mutations go through closure helpers so mutex protection can be
// toggled at runtime for race diagnostics.
type Ledger struct {
	mu       sync.Mutex
	agentID  string
	open     map[string]*Position
	closed   []Position
	trailing TrailingConfig
	flags    *featureflag.RuntimeFlags
	persist  atomic.Value // PersistFunc
	nowFn    atomic.Pointer[func() time.Time]
}

// NewLedger builds an empty ledger for an agent.
func NewLedger(agentID string, trailing TrailingConfig, flags *featureflag.RuntimeFlags) *Ledger {
	if trailing.ActivationPct <= 0 || trailing.TrailDistancePct <= 0 {
		trailing = DefaultTrailingConfig()
	}
	l := &Ledger{
		agentID:  agentID,
		open:     make(map[string]*Position),
		trailing: trailing,
		flags:    flags,
	}
	l.persist.Store(PersistFunc(nil))
	now := time.Now
	l.nowFn.Store(&now)
	return l
}

// SetPersistFunc installs a persistence hook invoked after every open, close
// and trailing ratchet.
func (l *Ledger) SetPersistFunc(fn PersistFunc) {
	l.persist.Store(fn)
}

// SetNowFn overrides the time provider (useful for tests).
func (l *Ledger) SetNowFn(fn func() time.Time) {
	if fn == nil {
		now := time.Now
		l.nowFn.Store(&now)
		return
	}
	l.nowFn.Store(&fn)
}

func (l *Ledger) now() time.Time {
	if ptr := l.nowFn.Load(); ptr != nil {
		return (*ptr)()
	}
	return time.Now()
}

func (l *Ledger) useMutex() bool {
	if l.flags == nil {
		return true
	}
	return l.flags.MutexProtectionEnabled()
}

func (l *Ledger) mutate(fn func()) {
	if l.useMutex() {
		l.mu.Lock()
		defer l.mu.Unlock()
	}
	fn()
}

// Open records a new OPEN position. The duplicate check and the insert are a
// single atomic step so two concurrent opens for one symbol cannot both
// succeed.
func (l *Ledger) Open(params OpenParams) (Position, error) {
	var result Position
	var err error

	l.mutate(func() {
		if existing, ok := l.open[params.Symbol]; ok && existing.Status == StatusOpen {
			err = ErrDuplicateActivePosition
			return
		}

		p := &Position{
			ID:              uuid.NewString(),
			AgentID:         l.agentID,
			Symbol:          params.Symbol,
			Direction:       params.Direction,
			Quantity:        params.Quantity,
			EntryPrice:      params.EntryPrice,
			StopLossPrice:   params.StopLossPrice,
			TakeProfitPrice: params.TakeProfitPrice,
			BestPrice:       params.EntryPrice,
			Status:          StatusOpen,
			OpenedAt:        l.now(),
		}
		l.open[params.Symbol] = p
		result = *p
	})
	if err != nil {
		return Position{}, err
	}

	metrics.IncPositionsOpened(l.agentID)
	metrics.SetOpenPositions(l.agentID, l.openCount())
	log.Printf("✓ position opened [%s %s]: qty %.6f @ %.4f, stop %.4f (id %s)",
		result.Symbol, result.Direction, result.Quantity, result.EntryPrice, result.StopLossPrice, result.ID)
	l.persistPosition(result)
	return result, nil
}

// UpdatePrice marks the position to price: refreshes the best price and
// ratchets the trailing stop. The trailing stop only ever moves in the
// position's favor.
func (l *Ledger) UpdatePrice(symbol string, price float64) (Position, error) {
	var result Position
	var err error
	ratcheted := false

	l.mutate(func() {
		p, ok := l.open[symbol]
		if !ok || p.Status != StatusOpen {
			err = ErrNotOpen
			return
		}

		if p.Direction == "SELL" {
			if price < p.BestPrice {
				p.BestPrice = price
			}
		} else if price > p.BestPrice {
			p.BestPrice = price
		}

		if l.trailingEnabled() {
			if candidate, armed := l.trailingCandidate(p); armed {
				if p.Direction == "SELL" {
					if p.TrailingStopPrice == 0 || candidate < p.TrailingStopPrice {
						p.TrailingStopPrice = candidate
						ratcheted = true
					}
				} else if candidate > p.TrailingStopPrice {
					p.TrailingStopPrice = candidate
					ratcheted = true
				}
			}
		}
		result = *p
	})
	if err != nil {
		return Position{}, err
	}

	if ratcheted {
		metrics.IncTrailingStopRatchets(l.agentID)
		log.Printf("📝 trailing stop ratcheted [%s]: %.4f (best %.4f)", symbol, result.TrailingStopPrice, result.BestPrice)
		l.persistPosition(result)
	}
	return result, nil
}

func (l *Ledger) trailingEnabled() bool {
	if l.flags == nil {
		return true
	}
	return l.flags.TrailingStopEnabled()
}

// trailingCandidate returns the stop implied by the best price, and whether
// the trail has armed (enough unrealized gain).
func (l *Ledger) trailingCandidate(p *Position) (float64, bool) {
	if p.Direction == "SELL" {
		gain := (p.EntryPrice - p.BestPrice) / p.EntryPrice
		if gain < l.trailing.ActivationPct {
			return 0, false
		}
		return p.BestPrice * (1 + l.trailing.TrailDistancePct), true
	}

	gain := (p.BestPrice - p.EntryPrice) / p.EntryPrice
	if gain < l.trailing.ActivationPct {
		return 0, false
	}
	return p.BestPrice * (1 - l.trailing.TrailDistancePct), true
}

// EvaluateExit checks the mark price against every exit level. When several
// levels trigger on the same tick the most protective wins: stop loss first,
// then take profit, then the trailing stop.
func (l *Ledger) EvaluateExit(symbol string, price float64) (ExitSignal, error) {
	var signal ExitSignal
	var err error

	l.mutate(func() {
		p, ok := l.open[symbol]
		if !ok || p.Status != StatusOpen {
			err = ErrNotOpen
			return
		}
		signal = evaluateExit(p, price)
	})
	if err != nil {
		return ExitSignal{}, err
	}
	return signal, nil
}

func evaluateExit(p *Position, price float64) ExitSignal {
	if p.Direction == "SELL" {
		switch {
		case price >= p.StopLossPrice:
			return ExitSignal{Triggered: true, Reason: ExitStopLoss, Price: price}
		case p.TakeProfitPrice > 0 && price <= p.TakeProfitPrice:
			return ExitSignal{Triggered: true, Reason: ExitTakeProfit, Price: price}
		case p.TrailingStopPrice > 0 && price >= p.TrailingStopPrice:
			return ExitSignal{Triggered: true, Reason: ExitTrailingStop, Price: price}
		}
		return ExitSignal{}
	}

	switch {
	case price <= p.StopLossPrice:
		return ExitSignal{Triggered: true, Reason: ExitStopLoss, Price: price}
	case p.TakeProfitPrice > 0 && price >= p.TakeProfitPrice:
		return ExitSignal{Triggered: true, Reason: ExitTakeProfit, Price: price}
	case p.TrailingStopPrice > 0 && price <= p.TrailingStopPrice:
		return ExitSignal{Triggered: true, Reason: ExitTrailingStop, Price: price}
	}
	return ExitSignal{}
}

// Close transitions the position to CLOSED with its realized PnL. Closing a
// position that is not OPEN returns ErrNotOpen; the transition happens at
// most once.
func (l *Ledger) Close(symbol string, exitPrice float64, reason string) (Position, error) {
	var result Position
	var err error

	l.mutate(func() {
		p, ok := l.open[symbol]
		if !ok || p.Status != StatusOpen {
			err = ErrNotOpen
			return
		}

		p.Status = StatusClosed
		p.ClosedAt = l.now()
		p.ExitReason = reason
		p.ExitPrice = exitPrice
		p.RealizedPnLUSD = UnrealizedPnL(p.Direction, p.EntryPrice, exitPrice, p.Quantity)
		if notional := p.EntryPrice * p.Quantity; notional > 0 {
			p.RealizedPnLPct = p.RealizedPnLUSD / notional
		}

		delete(l.open, symbol)
		l.closed = append(l.closed, *p)
		result = *p
	})
	if err != nil {
		return Position{}, err
	}

	metrics.IncPositionsClosed(l.agentID, reason)
	metrics.SetOpenPositions(l.agentID, l.openCount())
	log.Printf("✓ position closed [%s %s]: %s @ %.4f, pnl %.2f USD (%.2f%%)",
		result.Symbol, result.Direction, reason, exitPrice, result.RealizedPnLUSD, result.RealizedPnLPct*100)
	l.persistPosition(result)
	return result, nil
}

// Get returns the OPEN position for a symbol.
func (l *Ledger) Get(symbol string) (Position, bool) {
	var result Position
	found := false
	l.mutate(func() {
		if p, ok := l.open[symbol]; ok {
			result = *p
			found = true
		}
	})
	return result, found
}

// OpenPositions returns snapshots of every OPEN position.
func (l *Ledger) OpenPositions() []Position {
	var out []Position
	l.mutate(func() {
		out = make([]Position, 0, len(l.open))
		for _, p := range l.open {
			out = append(out, *p)
		}
	})
	return out
}

// ClosedPositions returns snapshots of every CLOSED position, oldest first.
func (l *Ledger) ClosedPositions() []Position {
	var out []Position
	l.mutate(func() {
		out = make([]Position, len(l.closed))
		copy(out, l.closed)
	})
	return out
}

// OpenExposureUSD sums the entry notional of all OPEN positions.
func (l *Ledger) OpenExposureUSD() float64 {
	total := 0.0
	l.mutate(func() {
		for _, p := range l.open {
			total += p.EntryPrice * p.Quantity
		}
	})
	return total
}

func (l *Ledger) openCount() int {
	n := 0
	l.mutate(func() { n = len(l.open) })
	return n
}

func (l *Ledger) persistPosition(p Position) {
	if l.flags != nil && !l.flags.PersistenceEnabled() {
		return
	}
	fn, ok := l.persist.Load().(PersistFunc)
	if !ok || fn == nil {
		return
	}

	start := time.Now()
	metrics.IncPersistenceAttempts(l.agentID)
	if err := fn(p); err != nil {
		metrics.IncPersistenceFailures(l.agentID)
		log.Printf("⚠️  position persist failed [%s]: %v", p.Symbol, err)
	}
	metrics.ObservePersistLatency(l.agentID, time.Since(start))
}
