// Package trader wires the full pipeline for one agent: signal → regime →
// sizing → validation → camouflage → submission → ledger.
package trader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tradeguard/decision"
	"tradeguard/execution"
	"tradeguard/featureflag"
	"tradeguard/market"
	"tradeguard/monitor"
	"tradeguard/position"
	"tradeguard/regime"
	"tradeguard/risk"
	"tradeguard/sizing"
)

// ErrRejected is returned when the validator blocks a candidate. The signal
// is consumed; nothing reaches the venue.
var ErrRejected = errors.New("candidate rejected by risk validation")

// Config carries an agent's wiring-time parameters.
type Config struct {
	AgentID        string
	InitialBalance float64
	TrendPeriod    int
	StatsLookback  int
	SignalInterval time.Duration
}

// Agent runs one strategy instance end to end. It owns its capital number,
// its ledger and its monitor; everything else is injected.
type Agent struct {
	cfg        Config
	flags      *featureflag.RuntimeFlags
	feed       market.Feed
	source     decision.Source
	classifier *regime.Classifier
	sizer      *sizing.Sizer
	validator  *risk.Validator
	tracker    *risk.Tracker
	cam        *execution.Camouflager
	submitter  execution.Submitter
	ledger     *position.Ledger
	monitor    *monitor.Monitor
	history    sizing.HistoryProvider

	capitalMu sync.Mutex
	capital   float64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Deps groups the injected collaborators for New.
type Deps struct {
	Flags      *featureflag.RuntimeFlags
	Feed       market.Feed
	Source     decision.Source
	Sizer      *sizing.Sizer
	Validator  *risk.Validator
	Tracker    *risk.Tracker
	Camouflage *execution.Camouflager
	Submitter  execution.Submitter
	Ledger     *position.Ledger
	// History supplies closed trades for Kelly re-estimation. When nil the
	// agent falls back to its own ledger.
	History sizing.HistoryProvider

	MonitorOptions []monitor.Option
}

// New assembles an agent. The monitor is created here so its close callback
// can feed realized PnL back into the agent's capital.
func New(cfg Config, deps Deps) *Agent {
	if cfg.TrendPeriod <= 0 {
		cfg.TrendPeriod = 200
	}
	if cfg.StatsLookback <= 0 {
		cfg.StatsLookback = 50
	}
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = time.Minute
	}

	a := &Agent{
		cfg:        cfg,
		flags:      deps.Flags,
		feed:       deps.Feed,
		source:     deps.Source,
		classifier: regime.NewClassifier(cfg.TrendPeriod),
		sizer:      deps.Sizer,
		validator:  deps.Validator,
		tracker:    deps.Tracker,
		cam:        deps.Camouflage,
		submitter:  deps.Submitter,
		ledger:     deps.Ledger,
		history:    deps.History,
		capital:    cfg.InitialBalance,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if a.history == nil {
		a.history = ledgerHistory{ledger: a.ledger}
	}

	opts := append([]monitor.Option{monitor.WithCloseCallback(a.onPositionClosed)}, deps.MonitorOptions...)
	a.monitor = monitor.New(cfg.AgentID, a.ledger, a.feed, a.submitter, opts...)
	return a
}

// Ledger exposes the agent's position ledger.
func (a *Agent) Ledger() *position.Ledger {
	return a.ledger
}

// Capital returns the agent's current capital.
func (a *Agent) Capital() float64 {
	a.capitalMu.Lock()
	defer a.capitalMu.Unlock()
	return a.capital
}

func (a *Agent) onPositionClosed(p position.Position) {
	a.capitalMu.Lock()
	a.capital += p.RealizedPnLUSD
	capital := a.capital
	a.capitalMu.Unlock()

	if a.tracker != nil {
		a.tracker.RecordEquity(a.cfg.AgentID, capital, a.flags)
	}
}

// Start launches the monitor and the signal loop.
func (a *Agent) Start() {
	a.startOnce.Do(func() {
		a.monitor.Start()
		go a.loop()
		log.Printf("✓ agent started [%s]: capital %.2f", a.cfg.AgentID, a.Capital())
	})
}

// Stop shuts the signal loop and the monitor down, finishing in-flight work.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
	a.monitor.Stop()
	log.Printf("✓ agent stopped [%s]", a.cfg.AgentID)
}

func (a *Agent) loop() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.cfg.SignalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			signal, err := a.source.Next(context.Background())
			if err != nil {
				log.Printf("⚠️  signal source failed [%s]: %v", a.cfg.AgentID, err)
				continue
			}
			if _, err := a.ProcessSignal(context.Background(), signal); err != nil &&
				!errors.Is(err, ErrRejected) {
				log.Printf("⚠️  signal processing failed [%s %s]: %v", a.cfg.AgentID, signal.Symbol, err)
			}
		}
	}
}

// ProcessSignal runs the whole pipeline for one signal. HOLD signals are
// no-ops. A validator rejection returns ErrRejected without touching the
// venue or the ledger.
func (a *Agent) ProcessSignal(ctx context.Context, signal decision.Signal) (position.Position, error) {
	if !signal.IsActionable() {
		return position.Position{}, nil
	}

	price, err := a.feed.Price(ctx, signal.Symbol)
	if err != nil {
		return position.Position{}, fmt.Errorf("fetch price: %w", err)
	}

	state, err := a.classifyRegime(ctx, signal.Symbol)
	if err != nil {
		return position.Position{}, fmt.Errorf("classify regime: %w", err)
	}

	stats := sizing.RefreshStats(ctx, a.history, a.cfg.StatsLookback)
	capital := a.Capital()

	sized := a.sizer.Size(sizing.Input{
		Capital:     capital,
		WinRate:     stats.WinRate,
		AvgWinPct:   stats.AvgWinPct,
		AvgLossPct:  stats.AvgLossPct,
		StopLossPct: signal.ProposedStopPct,
		Regime:      state,
	})

	stopPrice := stopPriceFor(signal.Action, price, signal.ProposedStopPct)
	candidate := risk.Candidate{
		Symbol:          signal.Symbol,
		Direction:       signal.Action,
		EntryPrice:      price,
		StopLossPrice:   stopPrice,
		PositionSizeUSD: sized.PositionSizeUSD,
		Regime:          state.Regime,
	}
	portfolio := risk.PortfolioState{
		Capital:            capital,
		OpenExposureUSD:    a.ledger.OpenExposureUSD(),
		ModeledDrawdownPct: a.modeledDrawdown(capital),
	}

	if a.riskEnforced() {
		verdict := a.validator.Validate(candidate, portfolio)
		if !verdict.Approved {
			return position.Position{}, fmt.Errorf("%w: %v", ErrRejected, verdict.FatalViolations)
		}
	}

	intent := execution.Intent{
		Symbol:          signal.Symbol,
		Direction:       signal.Action,
		EntryPrice:      price,
		Quantity:        sized.PositionSizeUSD / price,
		StopLossPrice:   stopPrice,
		TakeProfitPrice: takeProfitFor(signal.Action, price, signal.ProposedTakeProfitPct),
	}
	order := a.cam.Disguise(intent)

	fill, err := a.submitter.Submit(ctx, order)
	if err != nil {
		return position.Position{}, fmt.Errorf("submit order: %w", err)
	}

	opened, err := a.ledger.Open(position.OpenParams{
		Symbol:          fill.Symbol,
		Direction:       fill.Direction,
		Quantity:        fill.Quantity,
		EntryPrice:      fill.AvgPrice,
		StopLossPrice:   order.StopLossPrice,
		TakeProfitPrice: order.TakeProfitPrice,
	})
	if err != nil {
		// The venue holds a position the ledger refused; surface loudly.
		log.Printf("❌ ledger open failed after fill [%s]: %v", fill.Symbol, err)
		return position.Position{}, err
	}

	log.Printf("✓ pipeline complete [%s %s]: %s regime, fraction %.4f, size %.2f USD",
		a.cfg.AgentID, signal.Symbol, state.Regime, sized.FractionOfCapital, sized.PositionSizeUSD)
	return opened, nil
}

func (a *Agent) riskEnforced() bool {
	if a.flags == nil {
		return true
	}
	return a.flags.RiskEnforcementEnabled()
}

func (a *Agent) classifyRegime(ctx context.Context, symbol string) (regime.State, error) {
	candles, err := a.feed.History(ctx, symbol, "1d", a.cfg.TrendPeriod)
	if err != nil {
		return regime.State{}, err
	}
	series := make([]regime.PricePoint, len(candles))
	for i, c := range candles {
		series[i] = regime.PricePoint{Time: c.OpenTime, Price: c.Close}
	}
	return a.classifier.Classify(series)
}

// modeledDrawdown sums each open position's worst-case loss at its stop,
// expressed as a fraction of capital.
func (a *Agent) modeledDrawdown(capital float64) float64 {
	if capital <= 0 {
		return 0
	}
	total := 0.0
	for _, p := range a.ledger.OpenPositions() {
		loss := -position.UnrealizedPnL(p.Direction, p.EntryPrice, p.StopLossPrice, p.Quantity)
		if loss > 0 {
			total += loss
		}
	}
	return total / capital
}

func stopPriceFor(action string, price, stopPct float64) float64 {
	if action == decision.ActionSell {
		return price * (1 + stopPct)
	}
	return price * (1 - stopPct)
}

func takeProfitFor(action string, price, tpPct float64) float64 {
	if tpPct <= 0 {
		return 0
	}
	if action == decision.ActionSell {
		return price * (1 - tpPct)
	}
	return price * (1 + tpPct)
}

// ledgerHistory adapts the agent's own closed positions into the sizer's
// trade-history interface.
type ledgerHistory struct {
	ledger *position.Ledger
}

func (h ledgerHistory) RecentClosedTrades(ctx context.Context, limit int) ([]sizing.TradeRecord, error) {
	closed := h.ledger.ClosedPositions()
	if len(closed) > limit {
		closed = closed[len(closed)-limit:]
	}
	records := make([]sizing.TradeRecord, len(closed))
	for i, p := range closed {
		records[i] = sizing.TradeRecord{
			EntryPrice: p.EntryPrice,
			ExitPrice:  p.ExitPrice,
			Direction:  p.Direction,
			PnLPct:     p.RealizedPnLPct,
		}
	}
	return records, nil
}
