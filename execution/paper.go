package execution

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperSubmitter simulates a venue: every order fills instantly at its entry
// price. It keeps an in-memory record of submissions for inspection in tests
// and dry runs.
type PaperSubmitter struct {
	mu        sync.Mutex
	submitted []Order
	closed    []Fill
}

// NewPaperSubmitter builds an empty simulated venue.
func NewPaperSubmitter() *PaperSubmitter {
	return &PaperSubmitter{}
}

// Submit records the order and returns an immediate full fill at entry.
func (p *PaperSubmitter) Submit(ctx context.Context, order Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}

	p.mu.Lock()
	p.submitted = append(p.submitted, order)
	p.mu.Unlock()

	fill := Fill{
		OrderID:   uuid.NewString(),
		Symbol:    order.Symbol,
		Direction: order.Direction,
		Quantity:  order.Quantity,
		AvgPrice:  order.EntryPrice,
		FilledAt:  time.Now(),
	}
	log.Printf("✓ paper fill [%s %s]: qty %.6f @ %.4f", order.Symbol, order.Direction, order.Quantity, order.EntryPrice)
	return fill, nil
}

// Close records a simulated position close at the given price.
func (p *PaperSubmitter) Close(ctx context.Context, symbol, direction string, quantity, price float64) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}

	fill := Fill{
		OrderID:   uuid.NewString(),
		Symbol:    symbol,
		Direction: direction,
		Quantity:  quantity,
		AvgPrice:  price,
		FilledAt:  time.Now(),
	}

	p.mu.Lock()
	p.closed = append(p.closed, fill)
	p.mu.Unlock()

	log.Printf("✓ paper close [%s %s]: qty %.6f @ %.4f", symbol, direction, quantity, price)
	return fill, nil
}

// Submitted returns a copy of all orders seen so far.
func (p *PaperSubmitter) Submitted() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, len(p.submitted))
	copy(out, p.submitted)
	return out
}

// Closed returns a copy of all close fills seen so far.
func (p *PaperSubmitter) Closed() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.closed))
	copy(out, p.closed)
	return out
}
