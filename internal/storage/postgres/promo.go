package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gameshop-promo/internal/domain/promo"
)

const promoColumns = `id, code, discount_type, discount_value, min_order_amount,
	max_uses, max_uses_per_customer, used_count, is_active, expiry_date,
	applicable_categories, applicable_products, first_time_only,
	buy_quantity, get_quantity, auto_apply, stackable, description, created_at`

const (
	listPromosSQL = `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY created_at DESC, id`

	getPromoByIDSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE id = $1`

	findActivePromoSQL = `SELECT ` + promoColumns + ` FROM promo_codes
		WHERE code = $1 AND is_active = TRUE`

	listAutoApplySQL = `SELECT ` + promoColumns + ` FROM promo_codes
		WHERE is_active = TRUE AND auto_apply = TRUE
		AND (expiry_date IS NULL OR expiry_date > $1)
		ORDER BY created_at DESC, id`

	insertPromoSQL = `INSERT INTO promo_codes (` + promoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	updatePromoSQL = `UPDATE promo_codes SET
		code = $2, discount_type = $3, discount_value = $4, min_order_amount = $5,
		max_uses = $6, max_uses_per_customer = $7, is_active = $8, expiry_date = $9,
		applicable_categories = $10, applicable_products = $11, first_time_only = $12,
		buy_quantity = $13, get_quantity = $14, auto_apply = $15, stackable = $16,
		description = $17
		WHERE id = $1`

	deletePromoSQL = `DELETE FROM promo_codes WHERE id = $1`

	incrementUsedCountSQL = `UPDATE promo_codes SET used_count = used_count + 1 WHERE code = $1`

	incrementUsedCountBelowLimitSQL = `UPDATE promo_codes SET used_count = used_count + 1
		WHERE code = $1 AND (max_uses IS NULL OR used_count < max_uses)`
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL. Codes are
// expected in normalised form; the unique index on code enforces uniqueness.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// List returns all promo codes, newest first.
func (r *PromoRepository) List(ctx context.Context) ([]promo.Code, error) {
	rows, err := r.pool.Query(ctx, listPromosSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanPromo)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	return codes, nil
}

// GetByID returns the promo code with the given id.
func (r *PromoRepository) GetByID(ctx context.Context, id string) (*promo.Code, error) {
	rows, err := r.pool.Query(ctx, getPromoByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting promo code %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrPromoNotFound
		}
		return nil, fmt.Errorf("getting promo code %q: %w", id, err)
	}
	return &c, nil
}

// FindActiveByCode looks up an active promo code by its normalised code.
func (r *PromoRepository) FindActiveByCode(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := r.pool.Query(ctx, findActivePromoSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return &c, nil
}

// ListAutoApply returns active auto-apply codes that have not expired at now.
func (r *PromoRepository) ListAutoApply(ctx context.Context, now time.Time) ([]promo.Code, error) {
	rows, err := r.pool.Query(ctx, listAutoApplySQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing auto-apply codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanPromo)
	if err != nil {
		return nil, fmt.Errorf("listing auto-apply codes: %w", err)
	}
	return codes, nil
}

// Create inserts a new promo code.
func (r *PromoRepository) Create(ctx context.Context, c *promo.Code) error {
	_, err := r.pool.Exec(ctx, insertPromoSQL,
		c.ID, c.Code, string(c.DiscountType), c.DiscountValue, c.MinOrderAmount,
		c.MaxUses, c.MaxUsesPerCustomer, c.UsedCount, c.IsActive, c.ExpiryDate,
		textArray(c.ApplicableCategories), textArray(c.ApplicableProducts), c.FirstTimeOnly,
		c.BuyQuantity, c.GetQuantity, c.AutoApply, c.Stackable, c.Description, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.ErrCodeExists
		}
		return fmt.Errorf("creating promo code %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces the mutable fields of the promo code stored under c.ID.
// used_count and created_at are left untouched.
func (r *PromoRepository) Update(ctx context.Context, c *promo.Code) error {
	tag, err := r.pool.Exec(ctx, updatePromoSQL,
		c.ID, c.Code, string(c.DiscountType), c.DiscountValue, c.MinOrderAmount,
		c.MaxUses, c.MaxUsesPerCustomer, c.IsActive, c.ExpiryDate,
		textArray(c.ApplicableCategories), textArray(c.ApplicableProducts), c.FirstTimeOnly,
		c.BuyQuantity, c.GetQuantity, c.AutoApply, c.Stackable, c.Description,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return promo.ErrCodeExists
		}
		return fmt.Errorf("updating promo code %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrPromoNotFound
	}
	return nil
}

// Delete removes the promo code with the given id.
func (r *PromoRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePromoSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promo code %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrPromoNotFound
	}
	return nil
}

// IncrementUsedCount atomically increments the usage counter for code.
func (r *PromoRepository) IncrementUsedCount(ctx context.Context, code string) (bool, error) {
	tag, err := r.pool.Exec(ctx, incrementUsedCountSQL, code)
	if err != nil {
		return false, fmt.Errorf("incrementing uses for promo code %q: %w", code, err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementUsedCountBelowLimit increments the counter only while it is below
// max_uses. The comparison and the write happen in one statement.
func (r *PromoRepository) IncrementUsedCountBelowLimit(ctx context.Context, code string) (bool, error) {
	tag, err := r.pool.Exec(ctx, incrementUsedCountBelowLimitSQL, code)
	if err != nil {
		return false, fmt.Errorf("incrementing uses for promo code %q: %w", code, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPromo(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c            promo.Code
		discountType string
		maxUses      *int32
		perCustomer  *int32
		usedCount    int32
		buyQuantity  int32
		getQuantity  int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.MinOrderAmount,
		&maxUses, &perCustomer, &usedCount, &c.IsActive, &c.ExpiryDate,
		&c.ApplicableCategories, &c.ApplicableProducts, &c.FirstTimeOnly,
		&buyQuantity, &getQuantity, &c.AutoApply, &c.Stackable, &c.Description, &c.CreatedAt,
	)
	c.DiscountType = promo.DiscountType(discountType)
	c.MaxUses = intPtr(maxUses)
	c.MaxUsesPerCustomer = intPtr(perCustomer)
	c.UsedCount = int(usedCount)
	c.BuyQuantity = int(buyQuantity)
	c.GetQuantity = int(getQuantity)
	return c, err
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

// textArray keeps NOT NULL array columns from receiving NULL for nil slices.
func textArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
