package handler

import (
	"net/http"
	"time"

	"github.com/xenking/gameshop-promo/internal/domain/order"
)

type placeOrderRequest struct {
	Items []struct {
		ProductID   string `json:"product_id"`
		VariationID string `json:"variation_id"`
		Quantity    int    `json:"quantity"`
	} `json:"items"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	PromoCode     string `json:"promo_code"`
}

type orderItemResponse struct {
	ProductID   string  `json:"product_id"`
	VariationID string  `json:"variation_id"`
	Name        string  `json:"name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	CustomerEmail string              `json:"customer_email,omitempty"`
	CustomerPhone string              `json:"customer_phone,omitempty"`
	Items         []orderItemResponse `json:"items"`
	Subtotal      float64             `json:"subtotal"`
	Discount      float64             `json:"discount"`
	Total         float64             `json:"total"`
	PromoCode     string              `json:"promo_code,omitempty"`
	Promo         *validateResponse   `json:"promo,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toOrderResponse(res *order.PlaceOrderResult) orderResponse {
	o := res.Order
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Name:        it.Name,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.InexactFloat64(),
		}
	}
	out := orderResponse{
		ID:            o.ID,
		CustomerEmail: o.CustomerEmail,
		CustomerPhone: o.CustomerPhone,
		Items:         items,
		Subtotal:      o.Subtotal.InexactFloat64(),
		Discount:      o.Discount.InexactFloat64(),
		Total:         o.Total.InexactFloat64(),
		PromoCode:     o.PromoCode,
		CreatedAt:     o.CreatedAt,
	}
	if res.Promo != nil {
		p := toValidateResponse(res.Promo)
		out.Promo = &p
	}
	return out
}

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	items := make([]order.LineItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.LineItem{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
		}
	}

	res, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Items:         items,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		PromoCode:     req.PromoCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(res))
}
