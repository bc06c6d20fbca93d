package promo

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Rejections returned by Validate. Each one maps to a customer-facing message
// via Message.
var (
	ErrNotFound         = errors.New("promo code not found")
	ErrExpired          = errors.New("promo code expired")
	ErrExhausted        = errors.New("promo code usage limit reached")
	ErrPerCustomerLimit = errors.New("promo code per-customer limit reached")
	ErrNotFirstTime     = errors.New("promo code restricted to first-time buyers")
	ErrNotApplicable    = errors.New("promo code not applicable to cart items")
)

// Registry errors.
var (
	// ErrCodeExists is returned when a normalised code is already registered.
	ErrCodeExists = errors.New("promo code already exists")
	// ErrPromoNotFound is returned by id-based registry operations.
	ErrPromoNotFound = errors.New("promo code record not found")
)

// MinimumNotMetError is returned when the subtotal is below the code's
// minimum order amount.
type MinimumNotMetError struct {
	Min decimal.Decimal
}

func (e *MinimumNotMetError) Error() string {
	return fmt.Sprintf("minimum order amount %s not met", e.Min.String())
}

// InputError describes an invalid field in a registry or usage request.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var rejectionMessages = []struct {
	err    error
	reason string
	msg    string
}{
	{ErrNotFound, "not_found", "Invalid promo code"},
	{ErrExpired, "expired", "Promo code has expired"},
	{ErrExhausted, "exhausted", "Promo code has reached maximum uses"},
	{ErrPerCustomerLimit, "per_customer_limit", "You have already used this promo code"},
	{ErrNotFirstTime, "not_first_time", "This promo code is only for first-time buyers"},
	{ErrNotApplicable, "not_applicable", "This promo code is not applicable to items in your cart"},
}

// Message returns the customer-facing text for a validation rejection. The
// second result is false for errors outside the rejection taxonomy.
func Message(err error) (string, bool) {
	var minErr *MinimumNotMetError
	if errors.As(err, &minErr) {
		return fmt.Sprintf("Minimum order amount is Rs %s", minErr.Min.String()), true
	}
	for _, m := range rejectionMessages {
		if errors.Is(err, m.err) {
			return m.msg, true
		}
	}
	return "", false
}

// IsRejection reports whether err is one of the validation rejections.
func IsRejection(err error) bool {
	_, ok := Message(err)
	return ok
}

// Reason returns a short machine-readable label for err, used as a metric
// attribute. A nil error is "ok"; errors outside the taxonomy are "error".
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	var minErr *MinimumNotMetError
	if errors.As(err, &minErr) {
		return "minimum_not_met"
	}
	for _, m := range rejectionMessages {
		if errors.Is(err, m.err) {
			return m.reason
		}
	}
	return "error"
}
