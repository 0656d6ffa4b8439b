// utils/quantity.go
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Bybit hedge-mode position index convention.
const (
	PositionIdxLong  = 1
	PositionIdxShort = 2
)

// PositionIndex maps a logical side ("long"/"short") to the exchange's
// hedge-mode positionIdx. Returns 0 for anything else so a bad side is
// rejected by the API instead of silently landing on the wrong book.
func PositionIndex(side string) int {
	switch strings.ToLower(side) {
	case "long":
		return PositionIdxLong
	case "short":
		return PositionIdxShort
	default:
		return 0
	}
}

// RoundQuantityToStep floors an order quantity down to the instrument's
// quantity step. Flooring (never rounding up) guarantees the submitted size
// can always be covered by the margin the caller budgeted for.
// The math runs on decimals because step sizes like 0.001 are not exactly
// representable in binary floats and repeated float division accumulates
// artifacts right at step boundaries.
func RoundQuantityToStep(qty, step float64) (float64, error) {
	if step <= 0 {
		return 0, fmt.Errorf("invalid quantity step %.10f", step)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("quantity must be positive, got %.10f", qty)
	}

	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)

	steps := q.Div(s).Floor()
	if steps.IsZero() {
		return 0, fmt.Errorf("quantity %.10f is below one step (%.10f)", qty, step)
	}

	rounded, _ := steps.Mul(s).Float64()
	return rounded, nil
}

// ValidateQuantity checks a (already step-rounded) quantity against the
// instrument's minimum order size. Reduce-only closes are exempt: the
// exchange accepts closing residual dust below the minimum, and refusing
// to send the order would strand the position forever.
func ValidateQuantity(qty, minQty float64, reduceOnly bool) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %.10f", qty)
	}
	if !reduceOnly && minQty > 0 && qty < minQty-Epsilon {
		return fmt.Errorf("quantity %.10f is below the minimum order size %.10f", qty, minQty)
	}
	return nil
}

// FormatQuantity renders a quantity with exactly the decimal places implied
// by the instrument's step size, the way the exchange expects it on the wire.
func FormatQuantity(qty, step float64) string {
	places := int32(0)
	if step > 0 {
		places = -decimal.NewFromFloat(step).Exponent()
		if places < 0 {
			places = 0
		}
	}
	return decimal.NewFromFloat(qty).StringFixed(places)
}
