package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tradeguard/execution"
	"tradeguard/featureflag"
	"tradeguard/market"
	"tradeguard/position"
)

type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   map[string]bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{prices: make(map[string]float64), fail: make(map[string]bool)}
}

func (f *fakeFeed) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeFeed) setFailing(symbol string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[symbol] = failing
}

func (f *fakeFeed) Price(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[symbol] {
		return 0, fmt.Errorf("%w: simulated outage", market.ErrUnavailable)
	}
	price, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: unknown symbol %s", market.ErrUnavailable, symbol)
	}
	return price, nil
}

func (f *fakeFeed) History(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return nil, market.ErrUnavailable
}

type failingSubmitter struct {
	execution.PaperSubmitter
	failCloses bool
}

func (s *failingSubmitter) Close(ctx context.Context, symbol, direction string, quantity, price float64) (execution.Fill, error) {
	if s.failCloses {
		return execution.Fill{}, execution.ErrSubmitFailed
	}
	return s.PaperSubmitter.Close(ctx, symbol, direction, quantity, price)
}

func newTestLedger() *position.Ledger {
	return position.NewLedger("agent-1", position.DefaultTrailingConfig(),
		featureflag.NewRuntimeFlags(featureflag.DefaultState()))
}

func openTestPosition(t *testing.T, l *position.Ledger) position.Position {
	t.Helper()
	p, err := l.Open(position.OpenParams{
		Symbol:          "BTCUSDT",
		Direction:       "BUY",
		Quantity:        0.02,
		EntryPrice:      50000,
		StopLossPrice:   49000,
		TakeProfitPrice: 54000,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return p
}

func TestRunPassClosesOnStopLoss(t *testing.T) {
	ledger := newTestLedger()
	openTestPosition(t, ledger)

	feed := newFakeFeed()
	feed.set("BTCUSDT", 48500)
	paper := execution.NewPaperSubmitter()

	var closed []position.Position
	m := New("agent-1", ledger, feed, paper, WithCloseCallback(func(p position.Position) {
		closed = append(closed, p)
	}))

	m.RunPass(context.Background())

	if len(ledger.OpenPositions()) != 0 {
		t.Fatal("position should be closed after stop loss traded")
	}
	if len(closed) != 1 || closed[0].ExitReason != position.ExitStopLoss {
		t.Fatalf("unexpected close callback: %+v", closed)
	}
	if len(paper.Closed()) != 1 {
		t.Fatal("close order never reached the venue")
	}
}

func TestRunPassClosesOnTakeProfit(t *testing.T) {
	ledger := newTestLedger()
	openTestPosition(t, ledger)

	feed := newFakeFeed()
	feed.set("BTCUSDT", 54200)
	m := New("agent-1", ledger, feed, execution.NewPaperSubmitter())

	m.RunPass(context.Background())

	positions := ledger.ClosedPositions()
	if len(positions) != 1 || positions[0].ExitReason != position.ExitTakeProfit {
		t.Fatalf("expected take-profit close, got %+v", positions)
	}
}

func TestRunPassTrailingStopAcrossPasses(t *testing.T) {
	ledger := newTestLedger() // arms at +2%, trails 1.5%
	openTestPosition(t, ledger)

	feed := newFakeFeed()
	m := New("agent-1", ledger, feed, execution.NewPaperSubmitter())

	// Rally arms and ratchets the trail; trail at 53000*0.985 = 52205.
	for _, price := range []float64{51500, 52500, 53000} {
		feed.set("BTCUSDT", price)
		m.RunPass(context.Background())
	}
	if n := len(ledger.OpenPositions()); n != 1 {
		t.Fatalf("position closed prematurely during rally")
	}

	// Pullback through the trail closes the position.
	feed.set("BTCUSDT", 52100)
	m.RunPass(context.Background())

	positions := ledger.ClosedPositions()
	if len(positions) != 1 || positions[0].ExitReason != position.ExitTrailingStop {
		t.Fatalf("expected trailing-stop close, got %+v", positions)
	}
}

func TestRunPassSkipsOnFeedFailure(t *testing.T) {
	ledger := newTestLedger()
	openTestPosition(t, ledger)

	feed := newFakeFeed()
	feed.set("BTCUSDT", 48000) // would trigger the stop
	feed.setFailing("BTCUSDT", true)
	m := New("agent-1", ledger, feed, execution.NewPaperSubmitter())

	m.RunPass(context.Background())

	if len(ledger.OpenPositions()) != 1 {
		t.Fatal("feed failure must not mutate position state")
	}

	// Feed recovers; the next pass closes.
	feed.setFailing("BTCUSDT", false)
	m.RunPass(context.Background())
	if len(ledger.OpenPositions()) != 0 {
		t.Fatal("recovered feed should allow the exit")
	}
}

func TestRunPassRetriesAfterExecutionFailure(t *testing.T) {
	ledger := newTestLedger()
	openTestPosition(t, ledger)

	feed := newFakeFeed()
	feed.set("BTCUSDT", 48500)
	submitter := &failingSubmitter{failCloses: true}
	m := New("agent-1", ledger, feed, submitter)

	m.RunPass(context.Background())
	if len(ledger.OpenPositions()) != 1 {
		t.Fatal("position must stay open when the close order fails")
	}

	submitter.failCloses = false
	m.RunPass(context.Background())
	if len(ledger.OpenPositions()) != 0 {
		t.Fatal("retry pass should close the position")
	}
}

func TestStartStopFinishesInFlightPass(t *testing.T) {
	ledger := newTestLedger()
	openTestPosition(t, ledger)

	feed := newFakeFeed()
	feed.set("BTCUSDT", 50500)
	m := New("agent-1", ledger, feed, execution.NewPaperSubmitter(),
		WithInterval(5*time.Millisecond))

	m.Start()
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop is idempotent.
	m.Stop()
}

func TestErrUnavailableIsDetectable(t *testing.T) {
	feed := newFakeFeed()
	_, err := feed.Price(context.Background(), "NOPE")
	if !errors.Is(err, market.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
