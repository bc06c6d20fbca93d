package promo

import (
	"context"
	"iter"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApplicablePromo is an auto-apply code that validated against the cart.
type ApplicablePromo struct {
	Code           string
	DiscountAmount decimal.Decimal
	Description    string
}

// Candidate is the outcome of validating one auto-apply code. Exactly one of
// Result and Excluded is set.
type Candidate struct {
	Promo    Code
	Result   *Result
	Excluded error
}

// Applied reports whether the candidate validated.
func (c Candidate) Applied() bool {
	return c.Excluded == nil && c.Result != nil
}

func (c Candidate) applicable() ApplicablePromo {
	desc := c.Promo.Description
	if desc == "" {
		desc = c.Result.Details
	}
	return ApplicablePromo{
		Code:           c.Result.Code,
		DiscountAmount: c.Result.DiscountAmount,
		Description:    desc,
	}
}

// Evaluate validates every active, unexpired auto-apply code against the
// subtotal with an empty cart. The candidate list is fetched once; each
// iteration of the returned sequence validates the candidates again.
func (s *Service) Evaluate(ctx context.Context, subtotal decimal.Decimal, customer string) (iter.Seq[Candidate], error) {
	codes, err := s.promos.ListAutoApply(ctx, s.now())
	if err != nil {
		return nil, errors.Wrap(err, "list auto-apply promo codes")
	}

	return func(yield func(Candidate) bool) {
		for _, c := range codes {
			res, err := s.validate(ctx, ValidateRequest{
				Code:     c.Code,
				Subtotal: subtotal,
				Customer: customer,
			})
			s.observeValidation(ctx, "auto_apply", err)
			if !yield(Candidate{Promo: c, Result: res, Excluded: err}) {
				return
			}
		}
	}, nil
}

// AutoApply returns the auto-apply codes that validate for the subtotal and
// customer. Excluded codes are dropped silently. Result order follows the
// registry and is not meaningful.
func (s *Service) AutoApply(ctx context.Context, subtotal decimal.Decimal, customer string) (iter.Seq[ApplicablePromo], error) {
	candidates, err := s.Evaluate(ctx, subtotal, customer)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	return func(yield func(ApplicablePromo) bool) {
		for c := range candidates {
			if !c.Applied() {
				lg.Debug("Auto-apply candidate excluded",
					zap.String("code", c.Promo.Code),
					zap.String("reason", Reason(c.Excluded)),
				)
				continue
			}
			if !yield(c.applicable()) {
				return
			}
		}
	}, nil
}
