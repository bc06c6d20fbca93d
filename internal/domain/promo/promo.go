// Package promo implements the promo code registry, the discount engine that
// validates a code against a cart, the auto-apply selector and the usage
// recorder.
//
// Codes are compared in their normalised form (trimmed, upper-cased). The
// normalisation runs on every write and every lookup key, so storage engines
// never need a case-insensitive collation.
package promo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/gameshop-promo/internal/domain/catalog"
)

// DiscountType enumerates the supported promo discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountBuyXGetY carries buy/get quantities for line-level application.
	DiscountBuyXGetY DiscountType = "buy_x_get_y"
	// DiscountFreeShipping only flags free shipping.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountBuyXGetY, DiscountFreeShipping:
		return true
	default:
		return false
	}
}

// Code is a named discount rule stored in the registry.
type Code struct {
	ID                   string
	Code                 string
	DiscountType         DiscountType
	DiscountValue        decimal.Decimal
	MinOrderAmount       decimal.Decimal
	MaxUses              *int
	MaxUsesPerCustomer   *int
	UsedCount            int
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
	CreatedAt            time.Time
}

// Restricted reports whether the code carries a category or product allow-list.
func (c *Code) Restricted() bool {
	return len(c.ApplicableCategories) > 0 || len(c.ApplicableProducts) > 0
}

// ExpiredAt reports whether the code is expired at the given instant. A code
// stops being valid at its expiry instant.
func (c *Code) ExpiredAt(now time.Time) bool {
	return c.ExpiryDate != nil && !now.Before(*c.ExpiryDate)
}

// Usage is one redemption of a promo code. Records are never mutated.
type Usage struct {
	ID            string
	PromoCode     string
	OrderID       string
	CustomerEmail *string
	UsedAt        time.Time
}

// CartItem is a cart line used for applicability checks.
type CartItem struct {
	ProductID   string
	VariationID string
	Quantity    int
}

// Redemption is published after a usage record has been stored.
type Redemption struct {
	Code          string
	OrderID       string
	CustomerEmail string
	UsedAt        time.Time
}

// Repository provides persistence for promo code definitions.
type Repository interface {
	// List returns every code, newest first.
	List(ctx context.Context) ([]Code, error)
	// GetByID returns ErrPromoNotFound when no code has the given id.
	GetByID(ctx context.Context, id string) (*Code, error)
	// FindActiveByCode returns ErrNotFound when the normalised code is absent
	// or inactive.
	FindActiveByCode(ctx context.Context, code string) (*Code, error)
	// Create returns ErrCodeExists when the normalised code is taken.
	Create(ctx context.Context, c *Code) error
	// Update replaces the definition stored under c.ID.
	Update(ctx context.Context, c *Code) error
	Delete(ctx context.Context, id string) error
	// ListAutoApply returns active auto-apply codes not expired at now.
	ListAutoApply(ctx context.Context, now time.Time) ([]Code, error)
	// IncrementUsedCount reports whether a row was updated.
	IncrementUsedCount(ctx context.Context, code string) (bool, error)
	// IncrementUsedCountBelowLimit increments only while used_count is below
	// max_uses, as a single atomic statement.
	IncrementUsedCountBelowLimit(ctx context.Context, code string) (bool, error)
}

// UsageRepository stores and counts redemption records.
type UsageRepository interface {
	InsertUsage(ctx context.Context, u *Usage) error
	CountUsage(ctx context.Context, code, customerEmail string) (int, error)
}

// ProductFinder resolves cart products for applicability checks.
type ProductFinder interface {
	GetByID(ctx context.Context, id string) (*catalog.Product, error)
}

// OrderHistory counts past orders of a customer identity (email or phone).
type OrderHistory interface {
	CountByCustomer(ctx context.Context, identity string) (int, error)
}

// EventPublisher announces redemptions to other systems.
type EventPublisher interface {
	PublishRedemption(ctx context.Context, r Redemption) error
}

type nopPublisher struct{}

func (nopPublisher) PublishRedemption(context.Context, Redemption) error { return nil }
