package pricing

import (
	"math/rand"
	"sync"

	"microhub-redistribution-api/internal/model"

	"github.com/shopspring/decimal"
)

// Default bounds for generated original prices.
const (
	DefaultMinPrice = 30
	DefaultMaxPrice = 100
)

// PriceSource supplies the original price for a unit.
type PriceSource interface {
	OriginalPrice(unit model.InventoryUnit) decimal.Decimal
}

// RandomPrices keeps sourced prices and generates whole prices in [min, max] for units without one.
type RandomPrices struct {
	mu  sync.Mutex
	rng *rand.Rand
	min int
	max int
}

// NewRandomPrices creates a generator drawing from rng.
func NewRandomPrices(rng *rand.Rand, min, max int) *RandomPrices {
	if min <= 0 {
		min = DefaultMinPrice
	}
	if max < min {
		max = min
	}
	return &RandomPrices{rng: rng, min: min, max: max}
}

// OriginalPrice returns the unit's sourced price or a generated one.
func (p *RandomPrices) OriginalPrice(unit model.InventoryUnit) decimal.Decimal {
	if unit.OriginalPrice.IsPositive() {
		return unit.OriginalPrice
	}

	p.mu.Lock()
	v := p.rng.Intn(p.max-p.min+1) + p.min
	p.mu.Unlock()

	return decimal.NewFromInt(int64(v))
}
