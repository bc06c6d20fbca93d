package handler

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

type cartItemJSON struct {
	ProductID   string `json:"product_id"`
	VariationID string `json:"variation_id,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
}

// parseSubtotal reads a non-negative money amount with at most 2 decimal
// places. A missing value is zero.
func parseSubtotal(q url.Values) (decimal.Decimal, error) {
	raw := strings.TrimSpace(q.Get("subtotal"))
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &promo.InputError{Field: "subtotal", Reason: "must be a number"}
	}
	if err := promo.CheckAmount("subtotal", v); err != nil {
		return decimal.Zero, err
	}
	return v, nil
}

// parseCartItems accepts either a JSON array of cart items or a comma list
// of product_id[:variation_id]. Quantity defaults to 1.
func parseCartItems(raw string) ([]promo.CartItem, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") {
		var in []cartItemJSON
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			return nil, &promo.InputError{Field: "cart_items", Reason: "malformed JSON array"}
		}
		items := make([]promo.CartItem, 0, len(in))
		for _, it := range in {
			if it.ProductID == "" {
				return nil, &promo.InputError{Field: "cart_items", Reason: "product_id is required"}
			}
			if it.Quantity < 0 {
				return nil, &promo.InputError{Field: "cart_items", Reason: "quantity must not be negative"}
			}
			items = append(items, promo.CartItem{
				ProductID:   it.ProductID,
				VariationID: it.VariationID,
				Quantity:    max(it.Quantity, 1),
			})
		}
		return items, nil
	}

	var items []promo.CartItem
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		productID, variationID, _ := strings.Cut(part, ":")
		if productID == "" {
			return nil, &promo.InputError{Field: "cart_items", Reason: "product_id is required"}
		}
		items = append(items, promo.CartItem{ProductID: productID, VariationID: variationID, Quantity: 1})
	}
	return items, nil
}
