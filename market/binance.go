package market

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradeguard/metrics"
)

const priceCacheTTL = 15 * time.Second

type cachedPrice struct {
	price float64
	at    time.Time
}

// BinanceFeed reads prices and klines from Binance USDT-M futures. Latest
// prices are cached briefly so a monitor polling several positions does not
// hammer the ticker endpoint.
type BinanceFeed struct {
	client *futures.Client

	cacheMu sync.RWMutex
	prices  map[string]cachedPrice
}

// NewBinanceFeed builds a public (unauthenticated) futures market client.
func NewBinanceFeed() *BinanceFeed {
	return &BinanceFeed{
		client: futures.NewClient("", ""),
		prices: make(map[string]cachedPrice),
	}
}

// Price returns the latest price for a symbol, served from a 15s cache when
// fresh enough.
func (f *BinanceFeed) Price(ctx context.Context, symbol string) (float64, error) {
	f.cacheMu.RLock()
	cached, ok := f.prices[symbol]
	f.cacheMu.RUnlock()
	if ok && time.Since(cached.at) < priceCacheTTL {
		return cached.price, nil
	}

	res, err := f.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		metrics.IncPriceFeedFailures(symbol)
		return 0, fmt.Errorf("%w: ticker %s: %v", ErrUnavailable, symbol, err)
	}
	if len(res) == 0 {
		metrics.IncPriceFeedFailures(symbol)
		return 0, fmt.Errorf("%w: no ticker for %s", ErrUnavailable, symbol)
	}

	price, err := strconv.ParseFloat(res[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad ticker price %q for %s", ErrUnavailable, res[0].Price, symbol)
	}

	f.cacheMu.Lock()
	f.prices[symbol] = cachedPrice{price: price, at: time.Now()}
	f.cacheMu.Unlock()
	return price, nil
}

// History fetches klines, oldest first, as Binance returns them.
func (f *BinanceFeed) History(ctx context.Context, symbol string, interval string, limit int) ([]Candle, error) {
	if interval == "" {
		interval = "1d"
	}
	if limit <= 0 {
		limit = 200
	}

	klines, err := f.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		metrics.IncPriceFeedFailures(symbol)
		return nil, fmt.Errorf("%w: klines %s %s: %v", ErrUnavailable, symbol, interval, err)
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(k)
		if err != nil {
			log.Printf("⚠️  skipping malformed kline for %s: %v", symbol, err)
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(k *futures.Kline) (Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("low %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("volume %q: %w", k.Volume, err)
	}

	return Candle{
		OpenTime: time.UnixMilli(k.OpenTime),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
	}, nil
}
