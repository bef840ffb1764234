package execution

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeguard/featureflag"
	"tradeguard/metrics"
)

const (
	// Quantity perturbation magnitude, applied with a random sign.
	minQuantityNoisePct = 0.03
	maxQuantityNoisePct = 0.08

	// The disguised notional must stay close to what the sizer computed.
	maxNominalDeviationPct = 0.05

	// Stop placement may tighten by up to 15% of the intended distance but
	// never widen past it.
	maxStopDistanceShrinkPct = 0.15

	takeProfitNoisePct = 0.002

	// After this many rejected samples we give up on randomness and apply a
	// fixed non-round offset.
	maxResampleAttempts = 50

	fallbackQuantityOffsetPct = 0.0437
)

// Camouflager disguises order parameters so that resting orders do not sit
// at obvious round numbers or at the exact stop everyone else computes. Noise
// is drawn from an injectable PRNG so tests can replay exact sequences.
type Camouflager struct {
	mu    sync.Mutex
	rng   *rand.Rand
	flags *featureflag.RuntimeFlags
}

// NewCamouflager seeds the disguise source. A zero seed falls back to the
// wall clock.
func NewCamouflager(seed int64, flags *featureflag.RuntimeFlags) *Camouflager {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Camouflager{rng: rand.New(rand.NewSource(seed)), flags: flags}
}

// Disguise produces the order actually sent to the venue. When camouflage is
// disabled at runtime the intent passes through untouched apart from the
// trace ID.
func (c *Camouflager) Disguise(intent Intent) Order {
	order := Order{
		TraceID:         uuid.NewString(),
		Symbol:          intent.Symbol,
		Direction:       intent.Direction,
		EntryPrice:      intent.EntryPrice,
		Quantity:        intent.Quantity,
		StopLossPrice:   intent.StopLossPrice,
		TakeProfitPrice: intent.TakeProfitPrice,
		CreatedAt:       time.Now(),
	}

	if c.flags != nil && !c.flags.CamouflageEnabled() {
		return order
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	order.Quantity = c.disguiseQuantity(intent.Quantity)
	order.StopLossPrice = c.disguiseStop(intent.Direction, intent.EntryPrice, intent.StopLossPrice)
	if intent.TakeProfitPrice > 0 {
		order.TakeProfitPrice = c.disguiseTakeProfit(intent.TakeProfitPrice)
	}

	log.Printf("📝 camouflage [%s]: qty %.6f → %.6f, stop %.4f → %.4f",
		intent.Symbol, intent.Quantity, order.Quantity, intent.StopLossPrice, order.StopLossPrice)
	return order
}

// disguiseQuantity perturbs the target quantity by ±3–8%, rejecting samples
// that land on round values or drift the notional more than 5% from target.
func (c *Camouflager) disguiseQuantity(target float64) float64 {
	if target <= 0 {
		return target
	}

	for attempt := 0; attempt < maxResampleAttempts; attempt++ {
		noise := minQuantityNoisePct + c.rng.Float64()*(maxQuantityNoisePct-minQuantityNoisePct)
		if c.rng.Intn(2) == 0 {
			noise = -noise
		}
		candidate := roundQuantity(target * (1 + noise))
		if candidate <= 0 || isRoundValue(candidate) {
			metrics.AddCamouflageResamples(1)
			continue
		}
		if math.Abs(candidate-target)/target > maxNominalDeviationPct {
			metrics.AddCamouflageResamples(1)
			continue
		}
		return candidate
	}

	// Deterministic escape hatch: a fixed offset that is non-round at any
	// precision we quote.
	metrics.IncCamouflageFallbacks()
	fallback := roundQuantity(target * (1 + fallbackQuantityOffsetPct))
	if isRoundValue(fallback) {
		fallback = roundQuantity(fallback * 1.000137)
	}
	return fallback
}

// disguiseStop re-places the stop within [85%, 100%] of the intended distance
// from entry. The stop may tighten but never moves further from entry, so the
// disguised order is never less protected than the intent.
func (c *Camouflager) disguiseStop(direction string, entry, stop float64) float64 {
	if entry <= 0 || stop <= 0 {
		return stop
	}
	distance := math.Abs(entry-stop) / entry
	if distance == 0 {
		return stop
	}

	factor := 1 - c.rng.Float64()*maxStopDistanceShrinkPct
	disguised := distance * factor
	switch direction {
	case "BUY":
		return entry * (1 - disguised)
	case "SELL":
		return entry * (1 + disguised)
	default:
		return stop
	}
}

func (c *Camouflager) disguiseTakeProfit(target float64) float64 {
	noise := (c.rng.Float64()*2 - 1) * takeProfitNoisePct
	return target * (1 + noise)
}

// roundQuantity quotes fewer decimals for larger sizes, matching typical
// venue lot-size precision.
func roundQuantity(q float64) float64 {
	precision := 4.0
	if q >= 1 {
		precision = 3
	}
	scale := math.Pow(10, precision)
	return math.Round(q*scale) / scale
}

// isRoundValue reports whether q sits on a multiple of 0.1, which covers
// multiples of 0.5 and 1 as well.
func isRoundValue(q float64) bool {
	scaled := math.Round(q * 10000)
	return math.Mod(scaled, 1000) == 0
}
