package market

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Binance format BTCUSDT",
			input:    "BTCUSDT",
			expected: "BTC-USDT-SWAP",
		},
		{
			name:     "Binance format ETHUSDT",
			input:    "ETHUSDT",
			expected: "ETH-USDT-SWAP",
		},
		{
			name:     "Binance format lowercase btcusdt",
			input:    "btcusdt",
			expected: "BTC-USDT-SWAP",
		},
		{
			name:     "Already OKX SWAP format",
			input:    "BTC-USDT-SWAP",
			expected: "BTC-USDT-SWAP",
		},
		{
			name:     "Symbol without USDT",
			input:    "BTC",
			expected: "BTC-USDT-SWAP",
		},
		{
			name:     "Multi-letter coin SOLUSDT",
			input:    "SOLUSDT",
			expected: "SOL-USDT-SWAP",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.input)
			if result != tt.expected {
				t.Errorf("Normalize(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseKlineRejectsMalformedFields(t *testing.T) {
	candle, err := parseKline(klineFixture("50000.1", "50100.2", "49900.3", "50050.4", "123.45"))
	if err != nil {
		t.Fatalf("well-formed kline rejected: %v", err)
	}
	if candle.Close != 50050.4 || candle.Volume != 123.45 {
		t.Fatalf("unexpected candle: %+v", candle)
	}

	if _, err := parseKline(klineFixture("50000.1", "50100.2", "49900.3", "not-a-number", "123.45")); err == nil {
		t.Fatal("expected error for malformed close price")
	}
}

func klineFixture(open, high, low, closePrice, volume string) *futures.Kline {
	return &futures.Kline{
		OpenTime: 1717243200000,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
	}
}
