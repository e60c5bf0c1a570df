// Package pricing maps remaining shelf-life to discount tiers and computes offer prices.
package pricing

import (
	"github.com/shopspring/decimal"
)

// MaxDiscountPct caps escalation; the floor price is 10% of the original.
const MaxDiscountPct = 90

var hundred = decimal.NewFromInt(100)

// DiscountPercent returns the discount tier, in whole percent, for the days left before expiry.
// Negative values mean the unit has already expired.
func DiscountPercent(daysToExpiry int) int {
	switch {
	case daysToExpiry <= 1:
		return 50
	case daysToExpiry == 2:
		return 40
	case daysToExpiry == 3:
		return 30
	case daysToExpiry <= 5:
		return 20
	default:
		return 10
	}
}

// DiscountFor returns the discount tier as a fraction in [0,1].
func DiscountFor(daysToExpiry int) float64 {
	return float64(DiscountPercent(daysToExpiry)) / 100
}

// ApplyDiscountPct returns original reduced by pct percent, rounded half away from zero to cents.
func ApplyDiscountPct(original decimal.Decimal, pct int) decimal.Decimal {
	return original.Mul(decimal.NewFromInt(int64(100 - pct))).Div(hundred).Round(2)
}

// CurrentDiscountPct recovers the whole-percent discount already applied to price.
func CurrentDiscountPct(price, original decimal.Decimal) int {
	if original.IsZero() {
		return 0
	}
	off := decimal.NewFromInt(1).Sub(price.Div(original)).Mul(hundred)
	return int(off.Round(0).IntPart())
}

// Escalate raises a discount by escalation percentage points, capped at MaxDiscountPct.
func Escalate(currentPct, escalationPct int) int {
	return min(currentPct+escalationPct, MaxDiscountPct)
}
