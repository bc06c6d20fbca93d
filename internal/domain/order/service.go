package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/gameshop-promo/internal/domain/catalog"
	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems = errors.New("items required")
	ErrNoCustomer = errors.New("customer email or phone required")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// VariationNotFoundError indicates the product has no such variation.
type VariationNotFoundError struct {
	ProductID   string
	VariationID string
}

func (e *VariationNotFoundError) Error() string {
	return fmt.Sprintf("variation %s not found for product %s", e.VariationID, e.ProductID)
}

// UnavailableError indicates the product is inactive or sold out.
type UnavailableError struct {
	ProductID string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// LineItem is one requested cart line.
type LineItem struct {
	ProductID   string
	VariationID string
	Quantity    int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items         []LineItem
	CustomerEmail string
	CustomerPhone string
	PromoCode     string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *Order
	Promo *promo.Result
}

// Promotions is the part of the promo service used at checkout.
type Promotions interface {
	Validate(ctx context.Context, req promo.ValidateRequest) (*promo.Result, error)
	RecordUsageGuarded(ctx context.Context, code, orderID, customer string) error
}

// Service encapsulates order placement business logic.
type Service struct {
	products catalog.Repository
	promos   Promotions
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(products catalog.Repository, promos Promotions, orders Repository) *Service {
	return &Service{
		products: products,
		promos:   promos,
		orders:   orders,
		now:      time.Now,
	}
}

// PlaceOrder prices the cart from the catalog, validates the optional promo
// code, records the redemption and persists the order. The redemption goes
// through the guarded increment before the order is written, so a code that
// ran out between validation and checkout fails with promo.ErrExhausted and
// no order is stored.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	email := promo.NormalizeCustomer(req.CustomerEmail)
	phone := promo.NormalizeCustomer(req.CustomerPhone)
	identity := email
	if identity == "" {
		identity = phone
	}
	if identity == "" {
		return nil, ErrNoCustomer
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	items := make([]OrderItem, len(req.Items))
	cart := make([]promo.CartItem, len(req.Items))
	subtotal := decimal.Zero
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if !p.Purchasable() {
			return nil, &UnavailableError{ProductID: p.ID}
		}
		v, ok := p.Variation(item.VariationID)
		if !ok {
			return nil, &VariationNotFoundError{ProductID: p.ID, VariationID: item.VariationID}
		}

		items[i] = OrderItem{
			ProductID:   p.ID,
			VariationID: v.ID,
			Name:        p.Name + " - " + v.Name,
			Quantity:    item.Quantity,
			UnitPrice:   v.Price,
		}
		cart[i] = promo.CartItem{ProductID: p.ID, VariationID: v.ID, Quantity: item.Quantity}
		subtotal = subtotal.Add(v.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	var applied *promo.Result
	discount := decimal.Zero
	code := promo.NormalizeCode(req.PromoCode)
	if code != "" {
		applied, err = s.promos.Validate(ctx, promo.ValidateRequest{
			Code:     code,
			Subtotal: subtotal,
			Items:    cart,
			Customer: identity,
		})
		if err != nil {
			return nil, errors.Wrap(err, "validate promo code")
		}
		discount = applied.DiscountAmount
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:            uuid.New().String(),
		CustomerEmail: email,
		CustomerPhone: phone,
		Items:         items,
		Subtotal:      subtotal.Round(2),
		Discount:      discount.Round(2),
		Total:         total.Round(2),
		CreatedAt:     s.now().UTC(),
	}

	if applied != nil {
		o.PromoCode = applied.Code
		if err := s.promos.RecordUsageGuarded(ctx, applied.Code, o.ID, identity); err != nil {
			return nil, errors.Wrap(err, "record promo usage")
		}
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if applied != nil {
			zctx.From(ctx).Error("Promo redeemed for unsaved order",
				zap.String("order_id", o.ID),
				zap.String("code", applied.Code),
				zap.Error(err),
			)
		}
		return nil, errors.Wrap(err, "create order")
	}

	return &PlaceOrderResult{Order: o, Promo: applied}, nil
}
