// Package handler exposes the promo engine and checkout over HTTP.
package handler

import (
	"context"
	"iter"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/gameshop-promo/internal/domain/order"
	"github.com/xenking/gameshop-promo/internal/domain/promo"
	"github.com/xenking/gameshop-promo/pkg/httpmiddleware"
)

// PromoService is the promo engine surface used by the handlers.
type PromoService interface {
	List(ctx context.Context) ([]promo.Code, error)
	Create(ctx context.Context, in promo.Input) (*promo.Code, error)
	Replace(ctx context.Context, id string, in promo.Input) (*promo.Code, error)
	Delete(ctx context.Context, id string) error
	Validate(ctx context.Context, req promo.ValidateRequest) (*promo.Result, error)
	AutoApply(ctx context.Context, subtotal decimal.Decimal, customer string) (iter.Seq[promo.ApplicablePromo], error)
	RecordUsage(ctx context.Context, code, orderID, customer string) error
}

// OrderService places storefront orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

// Handler serves the /api routes.
type Handler struct {
	promos PromoService
	orders OrderService
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(promos PromoService, orders OrderService) *Handler {
	return &Handler{promos: promos, orders: orders}
}

// RouterConfig wires cross-cutting middleware into the router.
type RouterConfig struct {
	// Admin guards the registry endpoints. Nil leaves them open.
	Admin httpmiddleware.Middleware
	// Throttle guards the public validation endpoint. Nil disables it.
	Throttle httpmiddleware.Middleware
	// Middlewares run inside the router for every route, after matching.
	Middlewares []httpmiddleware.Middleware
}

// Router returns a chi router serving every /api route.
func (h *Handler) Router(cfg RouterConfig) *chi.Mux {
	admin := orPassthrough(cfg.Admin)
	throttle := orPassthrough(cfg.Throttle)

	r := chi.NewRouter()
	for _, m := range cfg.Middlewares {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/promo-codes", func(r chi.Router) {
			r.With(throttle).Get("/validate", h.ValidatePromo)
			r.Get("/auto-apply", h.AutoApply)
			r.Post("/record-usage", h.RecordUsage)

			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Get("/", h.ListPromos)
				r.Post("/", h.CreatePromo)
				r.Put("/{id}", h.ReplacePromo)
				r.Delete("/{id}", h.DeletePromo)
			})
		})
		r.Post("/orders", h.PlaceOrder)
	})
	return r
}

func orPassthrough(m httpmiddleware.Middleware) httpmiddleware.Middleware {
	if m != nil {
		return m
	}
	return func(next http.Handler) http.Handler { return next }
}
