package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gameshop-promo/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, customer_email, customer_phone, items,
		subtotal, discount, total, promo_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	countOrdersByCustomerSQL = `SELECT count(*) FROM orders
		WHERE (customer_email <> '' AND customer_email = $1)
		OR (customer_phone <> '' AND customer_phone = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerEmail, o.CustomerPhone, itemsJSON,
		o.Subtotal, o.Discount, o.Total, o.PromoCode, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// CountByCustomer counts orders whose email or phone equals identity.
func (r *OrderRepository) CountByCustomer(ctx context.Context, identity string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countOrdersByCustomerSQL, identity).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders of customer: %w", err)
	}
	return int(n), nil
}
