package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/xenking/gameshop-promo/internal/domain/promo"

	defaultLookupLimit = 8
)

// Service is the entry point to the registry, the discount engine, the
// auto-apply selector and the usage recorder. It holds no per-call state.
type Service struct {
	promos   Repository
	usages   UsageRepository
	products ProductFinder
	orders   OrderHistory
	events   EventPublisher

	now         func() time.Time
	newID       func() string
	lookupLimit int

	tracer      trace.Tracer
	validations metric.Int64Counter
	redemptions metric.Int64Counter
}

type options struct {
	events      EventPublisher
	tracer      trace.TracerProvider
	meter       metric.MeterProvider
	lookupLimit int
}

// Option configures a Service.
type Option func(*options)

// WithEventPublisher publishes a Redemption after every stored usage record.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *options) { o.events = p }
}

// WithTracerProvider sets the provider used for engine spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithMeterProvider sets the provider used for validation and redemption counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meter = mp }
}

// WithLookupLimit bounds concurrent catalog lookups per applicability check.
func WithLookupLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.lookupLimit = n
		}
	}
}

// NewService creates a Service backed by the given stores.
func NewService(
	promos Repository,
	usages UsageRepository,
	products ProductFinder,
	orders OrderHistory,
	opts ...Option,
) (*Service, error) {
	o := options{
		events:      nopPublisher{},
		tracer:      tracenoop.NewTracerProvider(),
		meter:       metricnoop.NewMeterProvider(),
		lookupLimit: defaultLookupLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meter.Meter(instrumentationName)
	validations, err := meter.Int64Counter("promo.validations",
		metric.WithDescription("Promo code validations by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validations counter")
	}
	redemptions, err := meter.Int64Counter("promo.redemptions",
		metric.WithDescription("Stored promo code usage records"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}

	return &Service{
		promos:      promos,
		usages:      usages,
		products:    products,
		orders:      orders,
		events:      o.events,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		lookupLimit: o.lookupLimit,
		tracer:      o.tracer.Tracer(instrumentationName),
		validations: validations,
		redemptions: redemptions,
	}, nil
}

func (s *Service) observeValidation(ctx context.Context, source string, err error) {
	s.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", Reason(err)),
		attribute.String("source", source),
	))
	if err != nil && !IsRejection(err) {
		zctx.From(ctx).Error("Promo validation failed", zap.Error(err))
	}
}
