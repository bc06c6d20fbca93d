package promo

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// MaxAmount is the largest value a NUMERIC(12,2) column holds.
	MaxAmount = decimal.RequireFromString("9999999999.99")
)

const (
	amountScale         = 2
	amountIntegerDigits = 10
	// Exponents below this are rejected before any rescaling arithmetic.
	minAmountExponent = -20
)

// CheckAmount reports an InputError unless v is a non-negative money amount
// that fits NUMERIC(12,2): at most 10 integer digits and 2 decimal places.
// The checks look at the digit count and exponent first, so values such as
// 1e5000000 are rejected without expanding them.
func CheckAmount(field string, v decimal.Decimal) error {
	if v.Sign() < 0 {
		return &InputError{Field: field, Reason: "must not be negative"}
	}
	if v.Sign() == 0 {
		return nil
	}
	exp := v.Exponent()
	if exp < minAmountExponent {
		return &InputError{Field: field, Reason: "must have at most 2 decimal places"}
	}
	if v.NumDigits()+int(exp) > amountIntegerDigits {
		return &InputError{Field: field, Reason: "must not exceed " + MaxAmount.String()}
	}
	if exp < -amountScale && !v.Equal(v.Truncate(amountScale)) {
		return &InputError{Field: field, Reason: "must have at most 2 decimal places"}
	}
	if v.GreaterThan(MaxAmount) {
		return &InputError{Field: field, Reason: "must not exceed " + MaxAmount.String()}
	}
	return nil
}

// Input holds the admin-editable fields of a promo code.
type Input struct {
	Code                 string
	DiscountType         DiscountType
	DiscountValue        decimal.Decimal
	MinOrderAmount       decimal.Decimal
	MaxUses              *int
	MaxUsesPerCustomer   *int
	IsActive             bool
	ExpiryDate           *time.Time
	ApplicableCategories []string
	ApplicableProducts   []string
	FirstTimeOnly        bool
	BuyQuantity          int
	GetQuantity          int
	AutoApply            bool
	Stackable            bool
	Description          string
}

// NormalizeCode returns the stored form of a promo code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeCustomer returns the stored form of a customer identity. Empty
// means no identity was supplied.
func NormalizeCustomer(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func (in *Input) validate() error {
	if in.Code == "" {
		return &InputError{Field: "code", Reason: "must not be empty"}
	}
	if !in.DiscountType.Valid() {
		return &InputError{Field: "discount_type", Reason: "unknown discount type " + string(in.DiscountType)}
	}
	if err := CheckAmount("discount_value", in.DiscountValue); err != nil {
		return err
	}
	if in.DiscountType == DiscountPercentage && in.DiscountValue.GreaterThan(hundred) {
		return &InputError{Field: "discount_value", Reason: "percentage must not exceed 100"}
	}
	if err := CheckAmount("min_order_amount", in.MinOrderAmount); err != nil {
		return err
	}
	if in.MaxUses != nil && *in.MaxUses < 0 {
		return &InputError{Field: "max_uses", Reason: "must not be negative"}
	}
	if in.MaxUsesPerCustomer != nil && *in.MaxUsesPerCustomer < 0 {
		return &InputError{Field: "max_uses_per_customer", Reason: "must not be negative"}
	}
	if in.DiscountType == DiscountBuyXGetY && (in.BuyQuantity <= 0 || in.GetQuantity <= 0) {
		return &InputError{Field: "buy_quantity", Reason: "buy_x_get_y needs positive buy and get quantities"}
	}
	return nil
}

// normalize applies the stored-form rules in place.
func (in *Input) normalize() {
	in.Code = NormalizeCode(in.Code)
	in.ApplicableCategories = compact(in.ApplicableCategories)
	in.ApplicableProducts = compact(in.ApplicableProducts)
	if in.ExpiryDate != nil {
		t := in.ExpiryDate.UTC()
		in.ExpiryDate = &t
	}
}

// apply copies the editable fields onto c.
func (in *Input) apply(c *Code) {
	c.Code = in.Code
	c.DiscountType = in.DiscountType
	c.DiscountValue = in.DiscountValue
	c.MinOrderAmount = in.MinOrderAmount
	c.MaxUses = in.MaxUses
	c.MaxUsesPerCustomer = in.MaxUsesPerCustomer
	c.IsActive = in.IsActive
	c.ExpiryDate = in.ExpiryDate
	c.ApplicableCategories = in.ApplicableCategories
	c.ApplicableProducts = in.ApplicableProducts
	c.FirstTimeOnly = in.FirstTimeOnly
	c.BuyQuantity = in.BuyQuantity
	c.GetQuantity = in.GetQuantity
	c.AutoApply = in.AutoApply
	c.Stackable = in.Stackable
	c.Description = in.Description
}

// compact trims entries and drops empty and duplicate ones, keeping order.
func compact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
