package market

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable signals that the price source could not serve the request.
// Callers treat it as transient: skip the cycle, keep prior state.
var ErrUnavailable = errors.New("market data unavailable")

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Feed serves current and historical prices for a symbol.
type Feed interface {
	// Price returns the latest trade price.
	Price(ctx context.Context, symbol string) (float64, error)
	// History returns up to limit bars of the given interval, oldest first.
	History(ctx context.Context, symbol string, interval string, limit int) ([]Candle, error)
}

// Normalize converts a Binance-style symbol (BTCUSDT) into the OKX perpetual
// instrument ID (BTC-USDT-SWAP). Symbols already in OKX format pass through.
func Normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "-SWAP") {
		return s
	}
	if strings.Contains(s, "-") {
		return s + "-SWAP"
	}
	base := strings.TrimSuffix(s, "USDT")
	return base + "-USDT-SWAP"
}
