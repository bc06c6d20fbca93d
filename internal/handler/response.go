package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/gameshop-promo/internal/domain/order"
	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Code: status, Message: msg})
}

// writeError maps domain errors to HTTP statuses. Anything unrecognised is
// logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeMessage(w, status, msg)
}

func classify(err error) (int, string) {
	if msg, ok := promo.Message(err); ok {
		if errors.Is(err, promo.ErrNotFound) {
			return http.StatusNotFound, msg
		}
		return http.StatusBadRequest, msg
	}

	var (
		inputErr       *promo.InputError
		quantityErr    *order.InvalidQuantityError
		productErr     *order.ProductNotFoundError
		variationErr   *order.VariationNotFoundError
		unavailableErr *order.UnavailableError
	)
	switch {
	case errors.Is(err, promo.ErrCodeExists):
		return http.StatusConflict, "Promo code already exists"
	case errors.Is(err, promo.ErrPromoNotFound):
		return http.StatusNotFound, "Promo code not found"
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, inputErr.Error()
	case errors.Is(err, order.ErrEmptyItems), errors.Is(err, order.ErrNoCustomer):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &quantityErr):
		return http.StatusUnprocessableEntity, quantityErr.Error()
	case errors.As(err, &productErr):
		return http.StatusUnprocessableEntity, productErr.Error()
	case errors.As(err, &variationErr):
		return http.StatusUnprocessableEntity, variationErr.Error()
	case errors.As(err, &unavailableErr):
		return http.StatusUnprocessableEntity, unavailableErr.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}
