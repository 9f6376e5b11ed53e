// Package money holds the exact-decimal arithmetic used for prices and
// order totals. All monetary values flow through shopspring/decimal so
// binary floating point never touches the money path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DisplayScale is the minor-unit precision for USD-like currencies.
// Rounding to it happens only at the display boundary, never in
// intermediate arithmetic.
const DisplayScale = 2

// LineTotal computes unit price times quantity exactly.
func LineTotal(unitPrice decimal.Decimal, quantity int) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, fmt.Errorf("money: quantity must be positive, got %d", quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("money: unit price cannot be negative, got %s", unitPrice)
	}
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// Sum adds totals exactly. Addition is commutative, so the result does
// not depend on the order of the inputs.
func Sum(totals ...decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t)
	}
	return sum
}

// Display rounds a value to the currency's minor-unit precision for
// presentation. Callers must not feed the result back into arithmetic.
func Display(v decimal.Decimal) string {
	return v.StringFixed(DisplayScale)
}
