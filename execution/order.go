package execution

import (
	"context"
	"errors"
	"time"
)

// ErrSubmitFailed wraps venue-side rejections and transport failures.
var ErrSubmitFailed = errors.New("order submit failed")

// Intent is the order the strategy wants, before any disguise is applied.
type Intent struct {
	Symbol          string
	Direction       string // "BUY" or "SELL"
	EntryPrice      float64
	Quantity        float64
	StopLossPrice   float64
	TakeProfitPrice float64 // 0 disables the take profit leg
}

// Order is the disguised order actually sent to a venue.
type Order struct {
	TraceID         string
	Symbol          string
	Direction       string
	EntryPrice      float64
	Quantity        float64
	StopLossPrice   float64
	TakeProfitPrice float64
	CreatedAt       time.Time
}

// NominalUSD is the order's notional at its entry price.
func (o Order) NominalUSD() float64 {
	return o.Quantity * o.EntryPrice
}

// Fill is the venue's acknowledgment of a submitted order.
type Fill struct {
	OrderID   string
	Symbol    string
	Direction string
	Quantity  float64
	AvgPrice  float64
	FilledAt  time.Time
}

// Submitter sends disguised orders to a venue (or a simulation of one).
type Submitter interface {
	Submit(ctx context.Context, order Order) (Fill, error)
	Close(ctx context.Context, symbol, direction string, quantity float64, price float64) (Fill, error)
}
