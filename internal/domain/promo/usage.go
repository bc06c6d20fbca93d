package promo

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RecordUsage counts a redemption: it increments the code's used_count and
// stores a usage record. The two writes are independent. An unknown code
// leaves the counters untouched but the usage record is still written.
//
// No validation happens here and the increment is unconditional, so two
// concurrent redemptions of a code with one use left both succeed. Callers
// that need the cap enforced should use RecordUsageGuarded.
func (s *Service) RecordUsage(ctx context.Context, code, orderID, customer string) error {
	code, err := usageArgs(code, orderID)
	if err != nil {
		return err
	}

	updated, err := s.promos.IncrementUsedCount(ctx, code)
	if err != nil {
		return errors.Wrapf(err, "increment used count of %s", code)
	}
	if !updated {
		zctx.From(ctx).Warn("Usage recorded for unknown promo code",
			zap.String("code", code),
			zap.String("order_id", orderID),
		)
	}

	return s.storeUsage(ctx, code, orderID, customer)
}

// RecordUsageGuarded increments used_count only while it is below max_uses,
// in one atomic storage operation, and stores the usage record only when the
// increment happened. It returns ErrExhausted when the cap was reached or the
// code no longer exists.
func (s *Service) RecordUsageGuarded(ctx context.Context, code, orderID, customer string) error {
	code, err := usageArgs(code, orderID)
	if err != nil {
		return err
	}

	updated, err := s.promos.IncrementUsedCountBelowLimit(ctx, code)
	if err != nil {
		return errors.Wrapf(err, "increment used count of %s", code)
	}
	if !updated {
		return ErrExhausted
	}

	return s.storeUsage(ctx, code, orderID, customer)
}

func usageArgs(code, orderID string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", &InputError{Field: "promo_code", Reason: "must not be empty"}
	}
	if orderID == "" {
		return "", &InputError{Field: "order_id", Reason: "must not be empty"}
	}
	return code, nil
}

func (s *Service) storeUsage(ctx context.Context, code, orderID, customer string) error {
	u := &Usage{
		ID:        s.newID(),
		PromoCode: code,
		OrderID:   orderID,
		UsedAt:    s.now().UTC(),
	}
	if c := NormalizeCustomer(customer); c != "" {
		u.CustomerEmail = &c
	}

	if err := s.usages.InsertUsage(ctx, u); err != nil {
		return errors.Wrapf(err, "insert usage of %s", code)
	}
	s.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("promo.code", code)))

	r := Redemption{Code: code, OrderID: orderID, UsedAt: u.UsedAt}
	if u.CustomerEmail != nil {
		r.CustomerEmail = *u.CustomerEmail
	}
	if err := s.events.PublishRedemption(ctx, r); err != nil {
		zctx.From(ctx).Warn("Publish redemption failed",
			zap.String("code", code),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	return nil
}
