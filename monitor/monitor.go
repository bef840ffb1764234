// Package monitor runs the per-agent polling loop that marks open positions
// to market and executes exits.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tradeguard/execution"
	"tradeguard/market"
	"tradeguard/metrics"
	"tradeguard/position"
)

const (
	defaultInterval  = 30 * time.Second
	defaultOpTimeout = 10 * time.Second
)

// Monitor polls the price feed for every open position, updates trailing
// stops and closes positions whose exit levels trade. One pass handles each
// position sequentially; a feed failure skips that position until the next
// pass and never mutates state.
type Monitor struct {
	agentID   string
	ledger    *position.Ledger
	feed      market.Feed
	submitter execution.Submitter
	interval  time.Duration
	opTimeout time.Duration

	// onClose is invoked after a position finishes closing, outside the
	// ledger lock.
	onClose func(position.Position)

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Option tweaks monitor construction.
type Option func(*Monitor)

// WithInterval overrides the polling period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithOpTimeout overrides the per-operation deadline for feed and venue
// calls.
func WithOpTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.opTimeout = d
		}
	}
}

// WithCloseCallback registers a hook for completed closes.
func WithCloseCallback(fn func(position.Position)) Option {
	return func(m *Monitor) { m.onClose = fn }
}

// New builds a monitor for one agent's ledger.
func New(agentID string, ledger *position.Ledger, feed market.Feed, submitter execution.Submitter, opts ...Option) *Monitor {
	m := &Monitor{
		agentID:   agentID,
		ledger:    ledger,
		feed:      feed,
		submitter: submitter,
		interval:  defaultInterval,
		opTimeout: defaultOpTimeout,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the polling loop. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.loop()
		log.Printf("✓ monitor started [%s]: interval %s", m.agentID, m.interval)
	})
}

// Stop requests shutdown and blocks until the in-flight pass (if any)
// finishes. Positions are never abandoned mid-close.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
	log.Printf("✓ monitor stopped [%s]", m.agentID)
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunPass(context.Background())
		}
	}
}

// RunPass executes one monitoring pass over every open position. Exposed so
// callers can trigger an immediate pass outside the ticker.
func (m *Monitor) RunPass(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ObserveMonitorCycleLatency(m.agentID, time.Since(start))
	}()

	for _, p := range m.ledger.OpenPositions() {
		m.checkPosition(ctx, p)
	}
}

func (m *Monitor) checkPosition(ctx context.Context, p position.Position) {
	feedCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	price, err := m.feed.Price(feedCtx, p.Symbol)
	cancel()
	if err != nil {
		if errors.Is(err, market.ErrUnavailable) {
			log.Printf("⚠️  price unavailable for %s, skipping this pass: %v", p.Symbol, err)
		} else {
			log.Printf("⚠️  price fetch failed for %s: %v", p.Symbol, err)
		}
		return
	}

	updated, err := m.ledger.UpdatePrice(p.Symbol, price)
	if err != nil {
		// Closed by someone else between listing and update.
		return
	}

	signal, err := m.ledger.EvaluateExit(p.Symbol, price)
	if err != nil || !signal.Triggered {
		return
	}

	log.Printf("📝 exit triggered [%s %s]: %s @ %.4f (stop %.4f, trail %.4f)",
		updated.Symbol, updated.Direction, signal.Reason, price, updated.StopLossPrice, updated.TrailingStopPrice)

	execCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	_, err = m.submitter.Close(execCtx, updated.Symbol, updated.Direction, updated.Quantity, price)
	cancel()
	if err != nil {
		// Leave the position open; the next pass retries the exit.
		metrics.IncExecutionFailures(m.agentID)
		log.Printf("❌ close order failed for %s, retrying next pass: %v", updated.Symbol, err)
		return
	}

	closed, err := m.ledger.Close(updated.Symbol, price, signal.Reason)
	if err != nil {
		log.Printf("⚠️  ledger close failed for %s: %v", updated.Symbol, err)
		return
	}
	if m.onClose != nil {
		m.onClose(closed)
	}
}
