package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

const (
	insertUsageSQL = `INSERT INTO promo_usages (id, promo_code, order_id, customer_email, used_at)
		VALUES ($1, $2, $3, $4, $5)`

	countUsageSQL = `SELECT count(*) FROM promo_usages WHERE promo_code = $1 AND customer_email = $2`
)

var _ promo.UsageRepository = (*UsageRepository)(nil)

// UsageRepository stores promo redemption records. Records are append-only.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// InsertUsage appends a usage record.
func (r *UsageRepository) InsertUsage(ctx context.Context, u *promo.Usage) error {
	_, err := r.pool.Exec(ctx, insertUsageSQL, u.ID, u.PromoCode, u.OrderID, u.CustomerEmail, u.UsedAt)
	if err != nil {
		return fmt.Errorf("inserting usage of %q for order %q: %w", u.PromoCode, u.OrderID, err)
	}
	return nil
}

// CountUsage counts records matching both code and customer email.
func (r *UsageRepository) CountUsage(ctx context.Context, code, customerEmail string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countUsageSQL, code, customerEmail).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of %q: %w", code, err)
	}
	return int(n), nil
}
