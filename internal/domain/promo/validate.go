package promo

import (
	"context"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/gameshop-promo/internal/domain/catalog"
)

// ValidateRequest is the input of the discount engine.
type ValidateRequest struct {
	Code     string
	Subtotal decimal.Decimal
	Items    []CartItem
	// Customer is an optional identity: an email, or a phone at checkout.
	// Empty skips the per-customer and first-time checks.
	Customer string
}

// Validate decides whether the code can be applied to the cart and computes
// the discount. Checks run in a fixed order and the first failing one is
// returned. Validate never writes.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "promo.Validate",
		trace.WithAttributes(attribute.String("promo.code", NormalizeCode(req.Code))),
	)
	defer span.End()

	res, err := s.validate(ctx, req)
	s.observeValidation(ctx, "manual", err)
	if err != nil {
		span.SetAttributes(attribute.String("promo.result", Reason(err)))
		if !IsRejection(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "validate promo code")
		}
		return nil, err
	}
	return res, nil
}

func (s *Service) validate(ctx context.Context, req ValidateRequest) (*Result, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := s.promos.FindActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "find promo code %s", code)
	}

	if err := s.check(ctx, c, req); err != nil {
		return nil, err
	}

	res := Apply(c, req.Subtotal)
	return &res, nil
}

func (s *Service) check(ctx context.Context, c *Code, req ValidateRequest) error {
	if c.ExpiredAt(s.now()) {
		return ErrExpired
	}

	if req.Subtotal.LessThan(c.MinOrderAmount) {
		return &MinimumNotMetError{Min: c.MinOrderAmount}
	}

	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return ErrExhausted
	}

	customer := NormalizeCustomer(req.Customer)

	if customer != "" && c.MaxUsesPerCustomer != nil {
		used, err := s.usages.CountUsage(ctx, c.Code, customer)
		if err != nil {
			return errors.Wrap(err, "count customer usage")
		}
		if used >= *c.MaxUsesPerCustomer {
			return ErrPerCustomerLimit
		}
	}

	if c.FirstTimeOnly && customer != "" {
		orders, err := s.orders.CountByCustomer(ctx, customer)
		if err != nil {
			return errors.Wrap(err, "count customer orders")
		}
		if orders > 0 {
			return ErrNotFirstTime
		}
	}

	if c.Restricted() {
		ok, err := s.applicable(ctx, c, req.Items)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotApplicable
		}
	}

	return nil
}

// applicable reports whether any cart item resolves to a catalog product that
// is in the product allow-list or belongs to an allowed category. Items that
// do not resolve never match. Catalog lookups run concurrently; a match wins
// over a failed lookup of another item.
func (s *Service) applicable(ctx context.Context, c *Code, items []CartItem) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}

	products := toSet(c.ApplicableProducts)
	categories := toSet(c.ApplicableCategories)
	var matched atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookupLimit)
	for _, id := range productIDs(items) {
		g.Go(func() error {
			if matched.Load() {
				return nil
			}
			p, err := s.products.GetByID(gctx, id)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return nil
				}
				return errors.Wrapf(err, "lookup product %s", id)
			}
			_, byProduct := products[p.ID]
			_, byCategory := categories[p.CategoryID]
			if byProduct || byCategory {
				matched.Store(true)
			}
			return nil
		})
	}
	err := g.Wait()
	if matched.Load() {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// productIDs returns the distinct non-empty product ids of items in order.
func productIDs(items []CartItem) []string {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			continue
		}
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}
