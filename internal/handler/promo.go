package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

// promoCodeRequest is the body of POST and PUT /api/promo-codes.
type promoCodeRequest struct {
	Code                 string          `json:"code"`
	DiscountType         string          `json:"discount_type"`
	DiscountValue        decimal.Decimal `json:"discount_value"`
	MinOrderAmount       decimal.Decimal `json:"min_order_amount"`
	MaxUses              *int            `json:"max_uses"`
	MaxUsesPerCustomer   *int            `json:"max_uses_per_customer"`
	IsActive             *bool           `json:"is_active"`
	ExpiryDate           *time.Time      `json:"expiry_date"`
	ApplicableCategories []string        `json:"applicable_categories"`
	ApplicableProducts   []string        `json:"applicable_products"`
	FirstTimeOnly        bool            `json:"first_time_only"`
	BuyQuantity          int             `json:"buy_quantity"`
	GetQuantity          int             `json:"get_quantity"`
	AutoApply            bool            `json:"auto_apply"`
	Stackable            bool            `json:"stackable"`
	Description          string          `json:"description"`
}

func (req *promoCodeRequest) input() promo.Input {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return promo.Input{
		Code:                 req.Code,
		DiscountType:         promo.DiscountType(req.DiscountType),
		DiscountValue:        req.DiscountValue,
		MinOrderAmount:       req.MinOrderAmount,
		MaxUses:              req.MaxUses,
		MaxUsesPerCustomer:   req.MaxUsesPerCustomer,
		IsActive:             active,
		ExpiryDate:           req.ExpiryDate,
		ApplicableCategories: req.ApplicableCategories,
		ApplicableProducts:   req.ApplicableProducts,
		FirstTimeOnly:        req.FirstTimeOnly,
		BuyQuantity:          req.BuyQuantity,
		GetQuantity:          req.GetQuantity,
		AutoApply:            req.AutoApply,
		Stackable:            req.Stackable,
		Description:          req.Description,
	}
}

type promoCodeResponse struct {
	ID                   string     `json:"id"`
	Code                 string     `json:"code"`
	DiscountType         string     `json:"discount_type"`
	DiscountValue        float64    `json:"discount_value"`
	MinOrderAmount       float64    `json:"min_order_amount"`
	MaxUses              *int       `json:"max_uses"`
	MaxUsesPerCustomer   *int       `json:"max_uses_per_customer"`
	UsedCount            int        `json:"used_count"`
	IsActive             bool       `json:"is_active"`
	ExpiryDate           *time.Time `json:"expiry_date"`
	ApplicableCategories []string   `json:"applicable_categories"`
	ApplicableProducts   []string   `json:"applicable_products"`
	FirstTimeOnly        bool       `json:"first_time_only"`
	BuyQuantity          int        `json:"buy_quantity"`
	GetQuantity          int        `json:"get_quantity"`
	AutoApply            bool       `json:"auto_apply"`
	Stackable            bool       `json:"stackable"`
	Description          string     `json:"description"`
	CreatedAt            time.Time  `json:"created_at"`
}

func toPromoCodeResponse(c *promo.Code) promoCodeResponse {
	return promoCodeResponse{
		ID:                   c.ID,
		Code:                 c.Code,
		DiscountType:         string(c.DiscountType),
		DiscountValue:        c.DiscountValue.InexactFloat64(),
		MinOrderAmount:       c.MinOrderAmount.InexactFloat64(),
		MaxUses:              c.MaxUses,
		MaxUsesPerCustomer:   c.MaxUsesPerCustomer,
		UsedCount:            c.UsedCount,
		IsActive:             c.IsActive,
		ExpiryDate:           c.ExpiryDate,
		ApplicableCategories: nonNil(c.ApplicableCategories),
		ApplicableProducts:   nonNil(c.ApplicableProducts),
		FirstTimeOnly:        c.FirstTimeOnly,
		BuyQuantity:          c.BuyQuantity,
		GetQuantity:          c.GetQuantity,
		AutoApply:            c.AutoApply,
		Stackable:            c.Stackable,
		Description:          c.Description,
		CreatedAt:            c.CreatedAt,
	}
}

type validateResponse struct {
	Valid          bool    `json:"valid"`
	Code           string  `json:"code"`
	DiscountType   string  `json:"discount_type"`
	DiscountValue  float64 `json:"discount_value"`
	DiscountAmount float64 `json:"discount_amount"`
	Details        string  `json:"details"`
	Stackable      bool    `json:"stackable"`
	BuyQuantity    int     `json:"buy_quantity,omitempty"`
	GetQuantity    int     `json:"get_quantity,omitempty"`
	FreeShipping   bool    `json:"free_shipping,omitempty"`
}

func toValidateResponse(r *promo.Result) validateResponse {
	return validateResponse{
		Valid:          r.Valid,
		Code:           r.Code,
		DiscountType:   string(r.DiscountType),
		DiscountValue:  r.DiscountValue.InexactFloat64(),
		DiscountAmount: r.DiscountAmount.InexactFloat64(),
		Details:        r.Details,
		Stackable:      r.Stackable,
		BuyQuantity:    r.BuyQuantity,
		GetQuantity:    r.GetQuantity,
		FreeShipping:   r.FreeShipping,
	}
}

type recordUsageRequest struct {
	PromoCode     string `json:"promo_code"`
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
}

// ListPromos handles GET /api/promo-codes.
func (h *Handler) ListPromos(w http.ResponseWriter, r *http.Request) {
	codes, err := h.promos.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]promoCodeResponse, len(codes))
	for i := range codes {
		out[i] = toPromoCodeResponse(&codes[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// CreatePromo handles POST /api/promo-codes.
func (h *Handler) CreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.promos.Create(r.Context(), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromoCodeResponse(c))
}

// ReplacePromo handles PUT /api/promo-codes/{id}.
func (h *Handler) ReplacePromo(w http.ResponseWriter, r *http.Request) {
	var req promoCodeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.promos.Replace(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromoCodeResponse(c))
}

// DeletePromo handles DELETE /api/promo-codes/{id}.
func (h *Handler) DeletePromo(w http.ResponseWriter, r *http.Request) {
	if err := h.promos.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Promo code deleted"})
}

// ValidatePromo handles GET /api/promo-codes/validate.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subtotal, err := parseSubtotal(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := parseCartItems(q.Get("cart_items"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.promos.Validate(r.Context(), promo.ValidateRequest{
		Code:     q.Get("code"),
		Subtotal: subtotal,
		Items:    items,
		Customer: q.Get("customer_email"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidateResponse(res))
}

// AutoApply handles GET /api/promo-codes/auto-apply. Candidates are validated
// while the response is being written.
func (h *Handler) AutoApply(w http.ResponseWriter, r *http.Request) {
	subtotal, err := parseSubtotal(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	seq, err := h.promos.AutoApply(r.Context(), subtotal, r.URL.Query().Get("customer_email"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	e := jx.NewStreamingEncoder(w, 4096)
	e.ArrStart()
	for p := range seq {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(p.Code)
		e.FieldStart("discount_amount")
		e.Float64(p.DiscountAmount.InexactFloat64())
		e.FieldStart("description")
		e.Str(p.Description)
		e.ObjEnd()
	}
	e.ArrEnd()
	if err := e.Close(); err != nil {
		zctx.From(r.Context()).Debug("Auto-apply stream aborted", zap.Error(err))
	}
}

// RecordUsage handles POST /api/promo-codes/record-usage.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req recordUsageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.promos.RecordUsage(r.Context(), req.PromoCode, req.OrderID, req.CustomerEmail); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Usage recorded"})
}

// decodeBody decodes a JSON request body of at most 1 MiB. It writes a 400
// and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
