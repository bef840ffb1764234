package execution

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tradeguard/market"
)

// OKXSubmitter routes disguised orders to OKX. Entry fills as a market
// order; the stop loss (and optional take profit) follow as conditional algo
// orders so the venue enforces the exits even if we go down. In dry-run mode
// nothing leaves the process.
type OKXSubmitter struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	client     *http.Client
	dryRun     bool
}

// NewOKXSubmitter creates a live or dry-run OKX client.
func NewOKXSubmitter(apiKey, secretKey, passphrase string, dryRun bool) *OKXSubmitter {
	return &OKXSubmitter{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
		baseURL:    "https://www.okx.com",
		client:     &http.Client{Timeout: 30 * time.Second},
		dryRun:     dryRun,
	}
}

func (t *OKXSubmitter) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(t.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (t *OKXSubmitter) request(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.999Z")
	sign := t.sign(timestamp, method, path, string(bodyBytes))

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewBuffer(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", t.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", sign)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", t.passphrase)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Code != "0" {
		return nil, fmt.Errorf("api error: code=%s, msg=%s", apiResp.Code, apiResp.Msg)
	}
	return apiResp.Data, nil
}

// Submit places the entry market order, then registers the stop loss and
// optional take profit as conditional orders on the venue.
func (t *OKXSubmitter) Submit(ctx context.Context, order Order) (Fill, error) {
	if t.dryRun {
		log.Printf("📝 [DRY RUN] %s %s: qty %.6f @ %.4f, stop %.4f (simulated)",
			order.Direction, order.Symbol, order.Quantity, order.EntryPrice, order.StopLossPrice)
		return Fill{
			OrderID:   "DRY_RUN_" + uuid.NewString(),
			Symbol:    order.Symbol,
			Direction: order.Direction,
			Quantity:  order.Quantity,
			AvgPrice:  order.EntryPrice,
			FilledAt:  time.Now(),
		}, nil
	}

	side := "buy"
	posSide := "long"
	if order.Direction == "SELL" {
		side = "sell"
		posSide = "short"
	}
	instID := market.Normalize(order.Symbol)

	body := map[string]interface{}{
		"instId":  instID,
		"tdMode":  "isolated",
		"side":    side,
		"posSide": posSide,
		"ordType": "market",
		"sz":      fmt.Sprintf("%.6f", order.Quantity),
		"clOrdId": tracePrefix(order.TraceID),
	}

	data, err := t.request(ctx, "POST", "/api/v5/trade/order", body)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: open %s %s: %v", ErrSubmitFailed, order.Direction, order.Symbol, err)
	}

	var orders []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return Fill{}, fmt.Errorf("decode order response: %w", err)
	}
	if len(orders) == 0 || orders[0].SCode != "0" {
		msg := "unknown error"
		if len(orders) > 0 {
			msg = orders[0].SMsg
		}
		return Fill{}, fmt.Errorf("%w: %s", ErrSubmitFailed, msg)
	}

	if err := t.placeConditional(ctx, instID, posSide, order.Quantity, order.StopLossPrice); err != nil {
		log.Printf("⚠️  stop-loss algo order failed for %s: %v", order.Symbol, err)
	}
	if order.TakeProfitPrice > 0 {
		if err := t.placeConditional(ctx, instID, posSide, order.Quantity, order.TakeProfitPrice); err != nil {
			log.Printf("⚠️  take-profit algo order failed for %s: %v", order.Symbol, err)
		}
	}

	log.Printf("✓ submitted %s %s: qty %.6f, venue order %s", order.Direction, order.Symbol, order.Quantity, orders[0].OrdID)
	return Fill{
		OrderID:   orders[0].OrdID,
		Symbol:    order.Symbol,
		Direction: order.Direction,
		Quantity:  order.Quantity,
		AvgPrice:  order.EntryPrice,
		FilledAt:  time.Now(),
	}, nil
}

// placeConditional registers a trigger order that closes the position at
// market when the trigger price trades.
func (t *OKXSubmitter) placeConditional(ctx context.Context, symbol, posSide string, quantity, triggerPrice float64) error {
	side := "sell"
	if posSide == "short" {
		side = "buy"
	}

	body := map[string]interface{}{
		"instId":    symbol,
		"tdMode":    "isolated",
		"side":      side,
		"posSide":   posSide,
		"ordType":   "conditional",
		"sz":        fmt.Sprintf("%.6f", quantity),
		"triggerPx": fmt.Sprintf("%.8f", triggerPrice),
		"orderPx":   "-1", // market
	}

	_, err := t.request(ctx, "POST", "/api/v5/trade/order-algo", body)
	return err
}

// Close flattens a position (or part of it) with a reduce-only market order.
func (t *OKXSubmitter) Close(ctx context.Context, symbol, direction string, quantity, price float64) (Fill, error) {
	if t.dryRun {
		log.Printf("📝 [DRY RUN] close %s %s: qty %.6f @ %.4f (simulated)", direction, symbol, quantity, price)
		return Fill{
			OrderID:   "DRY_RUN_" + uuid.NewString(),
			Symbol:    symbol,
			Direction: direction,
			Quantity:  quantity,
			AvgPrice:  price,
			FilledAt:  time.Now(),
		}, nil
	}

	// Closing a long sells, closing a short buys.
	side := "sell"
	posSide := "long"
	if direction == "SELL" {
		side = "buy"
		posSide = "short"
	}

	body := map[string]interface{}{
		"instId":     market.Normalize(symbol),
		"tdMode":     "isolated",
		"side":       side,
		"posSide":    posSide,
		"ordType":    "market",
		"sz":         fmt.Sprintf("%.6f", quantity),
		"reduceOnly": true,
	}

	data, err := t.request(ctx, "POST", "/api/v5/trade/order", body)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: close %s %s: %v", ErrSubmitFailed, direction, symbol, err)
	}

	var orders []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return Fill{}, fmt.Errorf("decode close response: %w", err)
	}
	if len(orders) == 0 || orders[0].SCode != "0" {
		msg := "unknown error"
		if len(orders) > 0 {
			msg = orders[0].SMsg
		}
		return Fill{}, fmt.Errorf("%w: %s", ErrSubmitFailed, msg)
	}

	log.Printf("✓ closed %s %s: qty %.6f, venue order %s", direction, symbol, quantity, orders[0].OrdID)
	return Fill{
		OrderID:   orders[0].OrdID,
		Symbol:    symbol,
		Direction: direction,
		Quantity:  quantity,
		AvgPrice:  price,
		FilledAt:  time.Now(),
	}, nil
}

// OKX caps clOrdId at 32 chars; a trimmed uuid keeps orders traceable.
func tracePrefix(traceID string) string {
	cleaned := make([]byte, 0, 32)
	for i := 0; i < len(traceID) && len(cleaned) < 32; i++ {
		if traceID[i] != '-' {
			cleaned = append(cleaned, traceID[i])
		}
	}
	return string(cleaned)
}
