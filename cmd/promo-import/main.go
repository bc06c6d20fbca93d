package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/gameshop-promo/internal/domain/promo"
	"github.com/xenking/gameshop-promo/internal/storage/postgres"
)

func main() {
	var (
		dataDir      string
		databaseURL  string
		discountType string
		value        string
		minOrder     string
		expiry       string
		description  string
		workers      int
		capacity     uint
		fpr          float64
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing batchN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountType, "type", string(promo.DiscountPercentage), "discount type for imported codes")
	flag.StringVar(&value, "value", "10", "discount value for imported codes")
	flag.StringVar(&minOrder, "min-order", "0", "minimum order amount for imported codes")
	flag.StringVar(&expiry, "expiry", "", "expiry date for imported codes (YYYY-MM-DD or RFC3339)")
	flag.StringVar(&description, "description", "Single-use promo code", "description for imported codes")
	flag.IntVar(&workers, "workers", runtime.GOMAXPROCS(0)*2, "concurrent registry writes")
	flag.UintVar(&capacity, "expected-codes", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.Float64Var(&fpr, "fpr", 0.001, "bloom filter false positive rate")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	template, err := buildTemplate(discountType, value, minOrder, expiry, description)
	if err != nil {
		slog.Error("invalid template", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, template, workers, capacity, fpr); err != nil {
		slog.Error("promo import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, template promo.Input, workers int, capacity uint, fpr float64) error {
	files, err := batchFiles(dataDir)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	registry, err := promo.NewService(
		postgres.NewPromoRepository(pool),
		postgres.NewUsageRepository(pool),
		postgres.NewCatalogRepository(pool),
		postgres.NewOrderRepository(pool),
	)
	if err != nil {
		return errors.Wrap(err, "create promo service")
	}

	im := &importer{
		files:    files,
		template: template,
		registry: registry,
		workers:  workers,
		capacity: capacity,
		fpr:      fpr,
	}
	st, err := im.run(ctx)
	slog.Info("import summary",
		slog.Uint64("scanned", st.Scanned),
		slog.Int("collisions", st.Collisions),
		slog.Uint64("created", st.Created),
		slog.Uint64("skipped", st.Skipped),
	)
	return err
}

// batchFiles returns the batchN.gz files in dir, sorted by name.
func batchFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "batch*.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "list batch files")
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no batch*.gz files in %s", dir)
	}
	if len(files) > 64 {
		return nil, errors.Errorf("too many batch files: %d (max 64)", len(files))
	}
	sort.Strings(files)
	return files, nil
}

// buildTemplate returns the shared definition for imported codes. Every
// imported code is single-use.
func buildTemplate(discountType, value, minOrder, expiry, description string) (promo.Input, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return promo.Input{}, errors.Wrap(err, "parse value")
	}
	m, err := decimal.NewFromString(minOrder)
	if err != nil {
		return promo.Input{}, errors.Wrap(err, "parse min order")
	}

	one := 1
	in := promo.Input{
		DiscountType:   promo.DiscountType(discountType),
		DiscountValue:  v,
		MinOrderAmount: m,
		MaxUses:        &one,
		IsActive:       true,
		Description:    description,
	}
	if !in.DiscountType.Valid() {
		return promo.Input{}, errors.Errorf("unknown discount type %q", discountType)
	}

	if expiry != "" {
		t, err := parseExpiry(expiry)
		if err != nil {
			return promo.Input{}, err
		}
		in.ExpiryDate = &t
	}
	return in, nil
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse expiry")
	}
	return t, nil
}
