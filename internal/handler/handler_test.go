package handler

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/gameshop-promo/internal/domain/order"
	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

// --- Mock implementations ---

type mockPromoService struct {
	codes      []promo.Code
	created    *promo.Code
	replaced   *promo.Code
	result     *promo.Result
	applicable []promo.ApplicablePromo
	err        error

	lastInput    promo.Input
	lastID       string
	lastValidate promo.ValidateRequest
	lastSubtotal decimal.Decimal
	lastCustomer string
	recorded     []string
}

func (m *mockPromoService) List(context.Context) ([]promo.Code, error) {
	return m.codes, m.err
}

func (m *mockPromoService) Create(_ context.Context, in promo.Input) (*promo.Code, error) {
	m.lastInput = in
	return m.created, m.err
}

func (m *mockPromoService) Replace(_ context.Context, id string, in promo.Input) (*promo.Code, error) {
	m.lastID = id
	m.lastInput = in
	return m.replaced, m.err
}

func (m *mockPromoService) Delete(_ context.Context, id string) error {
	m.lastID = id
	return m.err
}

func (m *mockPromoService) Validate(_ context.Context, req promo.ValidateRequest) (*promo.Result, error) {
	m.lastValidate = req
	return m.result, m.err
}

func (m *mockPromoService) AutoApply(_ context.Context, subtotal decimal.Decimal, customer string) (iter.Seq[promo.ApplicablePromo], error) {
	m.lastSubtotal = subtotal
	m.lastCustomer = customer
	if m.err != nil {
		return nil, m.err
	}
	return func(yield func(promo.ApplicablePromo) bool) {
		for _, p := range m.applicable {
			if !yield(p) {
				return
			}
		}
	}, nil
}

func (m *mockPromoService) RecordUsage(_ context.Context, code, orderID, customer string) error {
	m.recorded = append(m.recorded, code, orderID, customer)
	return m.err
}

type mockOrderService struct {
	result  *order.PlaceOrderResult
	err     error
	lastReq order.PlaceOrderRequest
}

func (m *mockOrderService) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error) {
	m.lastReq = req
	return m.result, m.err
}

// --- Helpers ---

func newRouter(promos *mockPromoService, orders *mockOrderService) http.Handler {
	return NewHandler(promos, orders).Router(RouterConfig{})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// --- Tests ---

func TestValidatePromo(t *testing.T) {
	promos := &mockPromoService{result: &promo.Result{
		Valid:          true,
		Code:           "SAVE10",
		DiscountType:   promo.DiscountPercentage,
		DiscountValue:  decimal.NewFromInt(10),
		DiscountAmount: decimal.RequireFromString("44.9"),
		Details:        "10% off",
	}}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodGet,
		"/api/promo-codes/validate?code=save10&subtotal=449&cart_items=netflix:netflix-private,pubg&customer_email=a@b.c", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "SAVE10", body["code"])
	assert.Equal(t, "percentage", body["discount_type"])
	assert.InDelta(t, 44.9, body["discount_amount"], 1e-9)
	assert.NotContains(t, body, "buy_quantity")
	assert.NotContains(t, body, "free_shipping")

	assert.Equal(t, "save10", promos.lastValidate.Code)
	assert.True(t, decimal.NewFromInt(449).Equal(promos.lastValidate.Subtotal))
	assert.Equal(t, "a@b.c", promos.lastValidate.Customer)
	assert.Equal(t, []promo.CartItem{
		{ProductID: "netflix", VariationID: "netflix-private", Quantity: 1},
		{ProductID: "pubg", Quantity: 1},
	}, promos.lastValidate.Items)
}

func TestValidatePromo_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"unknown code", promo.ErrNotFound, http.StatusNotFound, "Invalid promo code"},
		{"expired", promo.ErrExpired, http.StatusBadRequest, "Promo code has expired"},
		{"minimum", &promo.MinimumNotMetError{Min: decimal.NewFromInt(500)}, http.StatusBadRequest, "Minimum order amount is Rs 500"},
		{"exhausted", promo.ErrExhausted, http.StatusBadRequest, "Promo code has reached maximum uses"},
		{"first time", errors.Wrap(promo.ErrNotFirstTime, "validate"), http.StatusBadRequest, "This promo code is only for first-time buyers"},
		{"storage", errors.New("connection reset"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&mockPromoService{err: tt.err}, &mockOrderService{})

			rec := do(t, h, http.MethodGet, "/api/promo-codes/validate?code=X&subtotal=100", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeMap(t, rec)
			assert.Equal(t, tt.wantMsg, body["message"])
			assert.InDelta(t, float64(tt.wantStatus), body["code"], 0)
		})
	}
}

func TestValidatePromo_BadQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric subtotal", "code=X&subtotal=abc"},
		{"negative subtotal", "code=X&subtotal=-5"},
		{"sub-cent subtotal", "code=X&subtotal=0.005"},
		{"subtotal beyond column range", "code=X&subtotal=10000000000"},
		{"subtotal with huge exponent", "code=X&subtotal=1e5000000"},
		{"malformed cart json", "code=X&cart_items=%5B%7B"},
		{"cart item without product", "code=X&cart_items=%5B%7B%22quantity%22%3A2%7D%5D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&mockPromoService{}, &mockOrderService{})

			rec := do(t, h, http.MethodGet, "/api/promo-codes/validate?"+tt.query, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestParseCartItems(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []promo.CartItem
	}{
		{"empty", "", nil},
		{"comma list", "a, b:b1 ,,c", []promo.CartItem{
			{ProductID: "a", Quantity: 1},
			{ProductID: "b", VariationID: "b1", Quantity: 1},
			{ProductID: "c", Quantity: 1},
		}},
		{"json array", `[{"product_id":"a","quantity":3},{"product_id":"b","variation_id":"v"}]`, []promo.CartItem{
			{ProductID: "a", Quantity: 3},
			{ProductID: "b", VariationID: "v", Quantity: 1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCartItems(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAutoApply(t *testing.T) {
	promos := &mockPromoService{applicable: []promo.ApplicablePromo{
		{Code: "WELCOME5", DiscountAmount: decimal.RequireFromString("22.45"), Description: "5% off"},
		{Code: "FLAT100", DiscountAmount: decimal.NewFromInt(100), Description: "Rs 100 off"},
	}}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodGet, "/api/promo-codes/auto-apply?subtotal=449&customer_email=x@y.z", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got), rec.Body.String())
	require.Len(t, got, 2)
	assert.Equal(t, "WELCOME5", got[0]["code"])
	assert.InDelta(t, 22.45, got[0]["discount_amount"], 1e-9)
	assert.Equal(t, "Rs 100 off", got[1]["description"])
	assert.True(t, decimal.NewFromInt(449).Equal(promos.lastSubtotal))
	assert.Equal(t, "x@y.z", promos.lastCustomer)
}

func TestAutoApply_Empty(t *testing.T) {
	h := newRouter(&mockPromoService{}, &mockOrderService{})

	rec := do(t, h, http.MethodGet, "/api/promo-codes/auto-apply", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAutoApply_RejectsOutOfRangeSubtotal(t *testing.T) {
	promos := &mockPromoService{}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodGet, "/api/promo-codes/auto-apply?subtotal=1e5000000", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, promos.lastSubtotal.IsZero())
}

func TestAutoApply_RegistryError(t *testing.T) {
	h := newRouter(&mockPromoService{err: errors.New("db down")}, &mockOrderService{})

	rec := do(t, h, http.MethodGet, "/api/promo-codes/auto-apply?subtotal=100", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecordUsage(t *testing.T) {
	promos := &mockPromoService{}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodPost, "/api/promo-codes/record-usage",
		`{"promo_code":"SAVE10","order_id":"o-1","customer_email":"a@b.c"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Usage recorded"}`, rec.Body.String())
	assert.Equal(t, []string{"SAVE10", "o-1", "a@b.c"}, promos.recorded)
}

func TestRecordUsage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"malformed body", `{"promo_code":`, nil, http.StatusBadRequest},
		{"missing fields", `{}`, &promo.InputError{Field: "promo_code", Reason: "is required"}, http.StatusBadRequest},
		{"storage failure", `{"promo_code":"A","order_id":"o"}`, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&mockPromoService{err: tt.err}, &mockOrderService{})

			rec := do(t, h, http.MethodPost, "/api/promo-codes/record-usage", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCreatePromo(t *testing.T) {
	created := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	promos := &mockPromoService{created: &promo.Code{
		ID: "p1", Code: "SAVE10", DiscountType: promo.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10), IsActive: true, CreatedAt: created,
	}}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodPost, "/api/promo-codes",
		`{"code":"save10","discount_type":"percentage","discount_value":10,"max_uses":100,"applicable_categories":["gaming"]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "p1", body["id"])
	assert.Equal(t, []any{}, body["applicable_products"])
	assert.Nil(t, body["max_uses"])

	in := promos.lastInput
	assert.Equal(t, "save10", in.Code)
	assert.Equal(t, promo.DiscountPercentage, in.DiscountType)
	assert.True(t, decimal.NewFromInt(10).Equal(in.DiscountValue))
	assert.True(t, in.IsActive, "is_active defaults to true")
	require.NotNil(t, in.MaxUses)
	assert.Equal(t, 100, *in.MaxUses)
	assert.Equal(t, []string{"gaming"}, in.ApplicableCategories)
}

func TestCreatePromo_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"malformed", `not json`, nil, http.StatusBadRequest},
		{"duplicate", `{"code":"A","discount_type":"fixed"}`, promo.ErrCodeExists, http.StatusConflict},
		{"invalid", `{"code":"","discount_type":"fixed"}`, &promo.InputError{Field: "code", Reason: "is required"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&mockPromoService{err: tt.err}, &mockOrderService{})

			rec := do(t, h, http.MethodPost, "/api/promo-codes", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestReplacePromo(t *testing.T) {
	promos := &mockPromoService{replaced: &promo.Code{ID: "p1", Code: "NEW", IsActive: false, UsedCount: 4}}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodPut, "/api/promo-codes/p1", `{"code":"new","discount_type":"fixed","is_active":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", promos.lastID)
	assert.False(t, promos.lastInput.IsActive)
	body := decodeMap(t, rec)
	assert.InDelta(t, 4, body["used_count"], 0)
}

func TestReplacePromo_NotFound(t *testing.T) {
	h := newRouter(&mockPromoService{err: promo.ErrPromoNotFound}, &mockOrderService{})

	rec := do(t, h, http.MethodPut, "/api/promo-codes/missing", `{"code":"X","discount_type":"fixed"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Promo code not found", decodeMap(t, rec)["message"])
}

func TestDeletePromo(t *testing.T) {
	promos := &mockPromoService{}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodDelete, "/api/promo-codes/p9", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Promo code deleted"}`, rec.Body.String())
	assert.Equal(t, "p9", promos.lastID)
}

func TestListPromos(t *testing.T) {
	promos := &mockPromoService{codes: []promo.Code{
		{ID: "b", Code: "NEWEST", DiscountType: promo.DiscountFixed, DiscountValue: decimal.NewFromInt(100)},
		{ID: "a", Code: "OLDEST", DiscountType: promo.DiscountPercentage},
	}}
	h := newRouter(promos, &mockOrderService{})

	rec := do(t, h, http.MethodGet, "/api/promo-codes", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "NEWEST", got[0]["code"])
	assert.InDelta(t, 100, got[0]["discount_value"], 0)
}

func TestPlaceOrder(t *testing.T) {
	orders := &mockOrderService{result: &order.PlaceOrderResult{
		Order: &order.Order{
			ID:            "o-1",
			CustomerEmail: "a@b.c",
			Items: []order.OrderItem{{
				ProductID: "netflix", VariationID: "netflix-private", Name: "Netflix Premium - Private Profile (1 Month)",
				Quantity: 1, UnitPrice: decimal.NewFromInt(449),
			}},
			Subtotal:  decimal.NewFromInt(449),
			Discount:  decimal.RequireFromString("44.9"),
			Total:     decimal.RequireFromString("404.1"),
			PromoCode: "SAVE10",
		},
		Promo: &promo.Result{Valid: true, Code: "SAVE10", DiscountType: promo.DiscountPercentage},
	}}
	h := newRouter(&mockPromoService{}, orders)

	rec := do(t, h, http.MethodPost, "/api/orders",
		`{"items":[{"product_id":"netflix","variation_id":"netflix-private","quantity":1}],"customer_email":"a@b.c","promo_code":"SAVE10"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "o-1", body["id"])
	assert.InDelta(t, 404.1, body["total"], 1e-9)
	assert.Equal(t, "SAVE10", body["promo_code"])
	require.IsType(t, map[string]any{}, body["promo"])
	assert.Equal(t, "percentage", body["promo"].(map[string]any)["discount_type"])

	assert.Equal(t, []order.LineItem{{ProductID: "netflix", VariationID: "netflix-private", Quantity: 1}}, orders.lastReq.Items)
	assert.Equal(t, "SAVE10", orders.lastReq.PromoCode)
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"empty items", order.ErrEmptyItems, http.StatusBadRequest},
		{"no customer", order.ErrNoCustomer, http.StatusBadRequest},
		{"bad quantity", &order.InvalidQuantityError{ProductID: "p"}, http.StatusUnprocessableEntity},
		{"unknown product", &order.ProductNotFoundError{ProductID: "p"}, http.StatusUnprocessableEntity},
		{"unknown variation", &order.VariationNotFoundError{ProductID: "p", VariationID: "v"}, http.StatusUnprocessableEntity},
		{"sold out", &order.UnavailableError{ProductID: "p"}, http.StatusUnprocessableEntity},
		{"promo rejected", errors.Wrap(promo.ErrExpired, "validate promo code"), http.StatusBadRequest},
		{"promo unknown", errors.Wrap(promo.ErrNotFound, "validate promo code"), http.StatusNotFound},
		{"exhausted at checkout", errors.Wrap(promo.ErrExhausted, "record promo usage"), http.StatusBadRequest},
		{"storage", errors.Wrap(errors.New("db down"), "create order"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&mockPromoService{}, &mockOrderService{err: tt.err})

			rec := do(t, h, http.MethodPost, "/api/orders", `{"items":[],"customer_email":"a@b.c"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	h := newRouter(&mockPromoService{}, &mockOrderService{})

	rec := do(t, h, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":404,"message":"not found"}`, rec.Body.String())

	rec = do(t, h, http.MethodPatch, "/api/orders", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_AdminAndThrottleApplied(t *testing.T) {
	deny := func(status int) func(http.Handler) http.Handler {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			})
		}
	}
	h := NewHandler(&mockPromoService{result: &promo.Result{}}, &mockOrderService{}).Router(RouterConfig{
		Admin:    deny(http.StatusUnauthorized),
		Throttle: deny(http.StatusTooManyRequests),
	})

	tests := []struct {
		method, target string
		want           int
	}{
		{http.MethodGet, "/api/promo-codes", http.StatusUnauthorized},
		{http.MethodPost, "/api/promo-codes", http.StatusUnauthorized},
		{http.MethodPut, "/api/promo-codes/p1", http.StatusUnauthorized},
		{http.MethodDelete, "/api/promo-codes/p1", http.StatusUnauthorized},
		{http.MethodGet, "/api/promo-codes/validate?code=X", http.StatusTooManyRequests},
		{http.MethodGet, "/api/promo-codes/auto-apply", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
