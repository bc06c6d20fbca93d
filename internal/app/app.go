package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/gameshop-promo/internal/broker"
	"github.com/xenking/gameshop-promo/internal/domain/order"
	"github.com/xenking/gameshop-promo/internal/domain/promo"
	"github.com/xenking/gameshop-promo/internal/handler"
	"github.com/xenking/gameshop-promo/internal/storage/postgres"
	"github.com/xenking/gameshop-promo/pkg/health"
	"github.com/xenking/gameshop-promo/pkg/httpmiddleware"
)

const serviceName = "gameshop-promo"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := newService(ctx, lg, m.TracerProvider(), m.MeterProvider(), pool, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// service is the assembled HTTP application.
type service struct {
	handler http.Handler
	health  *health.Health
	closers []func() error
	lg      *zap.Logger
}

// Close releases resources opened by newService.
func (s *service) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.lg.Warn("Close failed", zap.Error(err))
		}
	}
}

// newService wires repositories, domain services and the HTTP stack on top
// of an already migrated pool. Health checks are registered but not started.
func newService(
	ctx context.Context,
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	pool *pgxpool.Pool,
	cfg *Config,
) (*service, error) {
	svc := &service{lg: lg}

	svc.health = health.New(lg.Named("health"))
	svc.health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool), health.WithThresholds(3, 1))
	svc.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	svc.health.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(500*time.Millisecond), health.WithThresholds(3, 1))

	// Repositories.
	promoRepo := postgres.NewPromoRepository(pool)
	usageRepo := postgres.NewUsageRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	opts := []promo.Option{
		promo.WithTracerProvider(tp),
		promo.WithMeterProvider(mp),
		promo.WithLookupLimit(cfg.Promo.LookupLimit),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := broker.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		svc.closers = append(svc.closers, publisher.Close)
		svc.health.AddReadinessCheck("kafka", 5*time.Second, health.PingCheck(publisher), health.WithThresholds(3, 1))
		opts = append(opts, promo.WithEventPublisher(publisher))
		lg.Info("Publishing redemptions",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// Domain services.
	promoService, err := promo.NewService(promoRepo, usageRepo, catalogRepo, orderRepo, opts...)
	if err != nil {
		svc.Close()
		return nil, errors.Wrap(err, "create promo service")
	}
	orderService := order.NewService(catalogRepo, promoService, orderRepo)

	// HTTP handlers.
	h := handler.NewHandler(promoService, orderService)
	security := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper), []byte(cfg.JWTSecret))

	router := h.Router(handler.RouterConfig{
		Admin: security.RequireAdmin(),
		Throttle: httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		Middlewares: []httpmiddleware.Middleware{
			httpmiddleware.Instrument(serviceName, tp, mp),
			httpmiddleware.LogRequests(),
		},
	})
	router.Get("/livez", svc.health.LiveEndpoint)
	router.Get("/readyz", svc.health.ReadyEndpoint)

	svc.handler = httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.HeaderAPIKey, httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	return svc, nil
}
