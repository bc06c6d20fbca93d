// Package catalog describes the storefront's product catalog as seen by the
// promo engine and checkout: products, their priced variations and categories.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Category groups products for browsing and promo applicability.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Variation is a purchasable option of a product (e.g. "1 Month", "325 UC").
type Variation struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Description   string           `json:"description,omitempty"`
}

// Product is a catalog item with one or more priced variations.
type Product struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ImageURL    string      `json:"image_url"`
	CategoryID  string      `json:"category_id"`
	Variations  []Variation `json:"variations"`
	IsActive    bool        `json:"is_active"`
	IsSoldOut   bool        `json:"is_sold_out"`
	CreatedAt   time.Time   `json:"created_at,omitzero"`
}

// Variation returns the variation with the given id. An empty id selects the
// first variation. The second result is false when nothing matches.
func (p *Product) Variation(id string) (Variation, bool) {
	if len(p.Variations) == 0 {
		return Variation{}, false
	}
	if id == "" {
		return p.Variations[0], true
	}
	for _, v := range p.Variations {
		if v.ID == id {
			return v, true
		}
	}
	return Variation{}, false
}

// Purchasable reports whether the product can be ordered.
func (p *Product) Purchasable() bool {
	return p.IsActive && !p.IsSoldOut
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
