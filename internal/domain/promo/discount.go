package promo

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Result is the outcome of a successful validation.
type Result struct {
	Valid          bool
	Code           string
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	DiscountAmount decimal.Decimal
	Details        string
	Stackable      bool
	BuyQuantity    int
	GetQuantity    int
	FreeShipping   bool
}

// Apply computes the discount a code grants on subtotal. It assumes every
// eligibility check already passed.
func Apply(c *Code, subtotal decimal.Decimal) Result {
	r := Result{
		Valid:         true,
		Code:          c.Code,
		DiscountType:  c.DiscountType,
		DiscountValue: c.DiscountValue,
		Details:       Details(c),
		Stackable:     c.Stackable,
	}

	amount := decimal.Zero
	switch c.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(c.DiscountValue).Div(hundred)
	case DiscountFixed:
		amount = decimal.Min(c.DiscountValue, subtotal)
	case DiscountBuyXGetY:
		r.BuyQuantity = c.BuyQuantity
		r.GetQuantity = c.GetQuantity
	case DiscountFreeShipping:
		r.FreeShipping = true
	}

	r.DiscountAmount = clamp(amount.Round(2), subtotal)
	return r
}

// Details returns the human-readable description of a code's discount.
func Details(c *Code) string {
	switch c.DiscountType {
	case DiscountPercentage:
		return fmt.Sprintf("%s%% off", c.DiscountValue.String())
	case DiscountFixed:
		return fmt.Sprintf("Rs %s off", c.DiscountValue.String())
	case DiscountBuyXGetY:
		return fmt.Sprintf("Buy %d Get %d Free", c.BuyQuantity, c.GetQuantity)
	case DiscountFreeShipping:
		return "Free shipping"
	default:
		return string(c.DiscountType)
	}
}

// clamp keeps amount within [0, subtotal]. Callers round before clamping.
func clamp(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() || subtotal.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}
