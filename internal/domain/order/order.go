package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a completed storefront order with pricing and discount details.
type Order struct {
	ID            string
	CustomerEmail string
	CustomerPhone string
	Items         []OrderItem
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	PromoCode     string
	CreatedAt     time.Time
}

// OrderItem is a single priced line of an order.
type OrderItem struct {
	ProductID   string          `json:"product_id"`
	VariationID string          `json:"variation_id"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// CountByCustomer counts orders whose email or phone equals identity.
	CountByCustomer(ctx context.Context, identity string) (int, error)
}
