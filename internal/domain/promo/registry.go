package promo

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// List returns all registered codes, newest first.
func (s *Service) List(ctx context.Context) ([]Code, error) {
	codes, err := s.promos.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promo codes")
	}
	return codes, nil
}

// Create registers a new code. It fails with ErrCodeExists when the
// normalised code is already taken and with *InputError on invalid input.
func (s *Service) Create(ctx context.Context, in Input) (*Code, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	c := &Code{
		ID:        s.newID(),
		CreatedAt: s.now().UTC(),
	}
	in.apply(c)

	if err := s.promos.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeExists) {
			return nil, ErrCodeExists
		}
		return nil, errors.Wrap(err, "create promo code")
	}

	zctx.From(ctx).Info("Promo code created",
		zap.String("id", c.ID),
		zap.String("code", c.Code),
		zap.String("type", string(c.DiscountType)),
	)
	return c, nil
}

// Replace overwrites every editable field of the code stored under id. The
// id, usage counter and creation time are kept.
func (s *Service) Replace(ctx context.Context, id string, in Input) (*Code, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	c, err := s.promos.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPromoNotFound) {
			return nil, ErrPromoNotFound
		}
		return nil, errors.Wrapf(err, "get promo code %s", id)
	}
	in.apply(c)

	if err := s.promos.Update(ctx, c); err != nil {
		switch {
		case errors.Is(err, ErrPromoNotFound):
			return nil, ErrPromoNotFound
		case errors.Is(err, ErrCodeExists):
			return nil, ErrCodeExists
		}
		return nil, errors.Wrapf(err, "update promo code %s", id)
	}

	zctx.From(ctx).Info("Promo code replaced", zap.String("id", c.ID), zap.String("code", c.Code))
	return c, nil
}

// Delete removes the code stored under id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.promos.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrPromoNotFound) {
			return ErrPromoNotFound
		}
		return errors.Wrapf(err, "delete promo code %s", id)
	}
	zctx.From(ctx).Info("Promo code deleted", zap.String("id", id))
	return nil
}
