package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/gameshop-promo/db"
	"github.com/xenking/gameshop-promo/internal/domain/auth"
	"github.com/xenking/gameshop-promo/internal/domain/catalog"
	"github.com/xenking/gameshop-promo/internal/domain/promo"
	"github.com/xenking/gameshop-promo/internal/storage/postgres"
)

type catalogFile struct {
	Categories []catalog.Category `json:"categories"`
	Products   []catalog.Product  `json:"products"`
}

func main() {
	var (
		databaseURL  string
		catalogPath  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogPath, "catalog-file", "", "path to catalog JSON file (defaults to the embedded catalog)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or GAMESHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or GAMESHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("GAMESHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or GAMESHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("GAMESHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogPath, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalogRepo := postgres.NewCatalogRepository(pool)
	if err := seedCatalog(ctx, catalogRepo, catalogPath); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	promos, err := promo.NewService(
		postgres.NewPromoRepository(pool),
		postgres.NewUsageRepository(pool),
		catalogRepo,
		postgres.NewOrderRepository(pool),
	)
	if err != nil {
		return errors.Wrap(err, "create promo service")
	}
	if err := seedPromoCodes(ctx, promos); err != nil {
		return errors.Wrap(err, "seed promo codes")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository, path string) error {
	data := db.Catalog
	if path != "" {
		slog.Info("reading catalog file", slog.String("path", path))

		var err error
		if data, err = os.ReadFile(path); err != nil {
			return errors.Wrap(err, "read catalog file")
		}
	}

	var cat catalogFile
	if err := json.Unmarshal(data, &cat); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting catalog",
		slog.Int("categories", len(cat.Categories)),
		slog.Int("products", len(cat.Products)),
	)

	for _, c := range cat.Categories {
		if err := repo.UpsertCategory(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert category %s", c.ID)
		}
	}
	for i := range cat.Products {
		p := &cat.Products[i]
		if err := repo.UpsertProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func demoPromoCodes() []promo.Input {
	maxUses := func(n int) *int { return &n }

	return []promo.Input{
		{
			Code:          "SAVE10",
			DiscountType:  promo.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			IsActive:      true,
			Stackable:     true,
			Description:   "10% off your order",
		},
		{
			Code:           "FLAT100",
			DiscountType:   promo.DiscountFixed,
			DiscountValue:  decimal.NewFromInt(100),
			MinOrderAmount: decimal.NewFromInt(999),
			MaxUses:        maxUses(500),
			IsActive:       true,
			Description:    "Rs 100 off orders above Rs 999",
		},
		{
			Code:               "NEWBIE",
			DiscountType:       promo.DiscountPercentage,
			DiscountValue:      decimal.NewFromInt(15),
			MaxUsesPerCustomer: maxUses(1),
			FirstTimeOnly:      true,
			IsActive:           true,
			Description:        "15% off your first order",
		},
		{
			Code:                 "GAMING20",
			DiscountType:         promo.DiscountPercentage,
			DiscountValue:        decimal.NewFromInt(20),
			MinOrderAmount:       decimal.NewFromInt(499),
			ApplicableCategories: []string{"gaming", "topups"},
			IsActive:             true,
			Description:          "20% off games and top-ups",
		},
		{
			Code:          "WELCOME5",
			DiscountType:  promo.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(5),
			AutoApply:     true,
			IsActive:      true,
			Description:   "5% off applied automatically",
		},
	}
}

func seedPromoCodes(ctx context.Context, promos *promo.Service) error {
	slog.Info("seeding demo promo codes")

	for _, in := range demoPromoCodes() {
		c, err := promos.Create(ctx, in)
		switch {
		case errors.Is(err, promo.ErrCodeExists):
			slog.Info("promo code exists, skipping", slog.String("code", in.Code))
			continue
		case err != nil:
			return errors.Wrapf(err, "create promo code %s", in.Code)
		}

		slog.Info("created promo code", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	if err := repo.Upsert(ctx, &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Default admin key",
		Scopes:  []string{auth.ScopeManagePromos},
		Active:  true,
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default admin key"))

	return nil
}
