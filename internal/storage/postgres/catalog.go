package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/gameshop-promo/internal/domain/catalog"
)

const productColumns = `id, name, description, image_url, category_id, variations,
	is_active, is_sold_out, created_at`

const (
	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	upsertCategorySQL = `INSERT INTO categories (id, name, slug) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug`

	upsertProductSQL = `INSERT INTO products (id, name, description, image_url, category_id,
		variations, is_active, is_sold_out)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			image_url = EXCLUDED.image_url, category_id = EXCLUDED.category_id,
			variations = EXCLUDED.variations, is_active = EXCLUDED.is_active,
			is_sold_out = EXCLUDED.is_sold_out`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
// Variations live in a JSONB column next to the product row.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Unknown ids are
// skipped.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return products, nil
}

// UpsertCategory inserts or updates a category.
func (r *CatalogRepository) UpsertCategory(ctx context.Context, c catalog.Category) error {
	if _, err := r.pool.Exec(ctx, upsertCategorySQL, c.ID, c.Name, c.Slug); err != nil {
		return fmt.Errorf("upserting category %q: %w", c.ID, err)
	}
	return nil
}

// UpsertProduct inserts or updates a product with its variations.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p *catalog.Product) error {
	variations, err := json.Marshal(p.Variations)
	if err != nil {
		return fmt.Errorf("marshaling variations of %q: %w", p.ID, err)
	}

	_, err = r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.ImageURL, p.CategoryID,
		variations, p.IsActive, p.IsSoldOut,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p          catalog.Product
		variations []byte
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.ImageURL, &p.CategoryID, &variations,
		&p.IsActive, &p.IsSoldOut, &p.CreatedAt,
	); err != nil {
		return p, err
	}
	if err := json.Unmarshal(variations, &p.Variations); err != nil {
		return p, fmt.Errorf("decoding variations of %q: %w", p.ID, err)
	}
	return p, nil
}
