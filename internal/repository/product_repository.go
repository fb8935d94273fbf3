package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Product errors
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrProductSlugExists = errors.New("product slug already exists")
)

// ProductRepository defines data access for the product catalogue
type ProductRepository interface {
	List(ctx context.Context, params ListProductParams) ([]Product, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetBySlug(ctx context.Context, slug string, publishedOnly bool) (*Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	SetImageKey(ctx context.Context, id uuid.UUID, key *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ReferencedImageKeys(ctx context.Context, keys []string) (map[string]bool, error)
}

// ProductRepo implements ProductRepository using PostgreSQL through sqlx
type ProductRepo struct {
	db *sqlx.DB
}

// NewProductRepo creates a new ProductRepo instance
func NewProductRepo(db *sqlx.DB) *ProductRepo {
	return &ProductRepo{db: db}
}

const productColumns = `id, slug, name, tagline, description, price_cents, currency,
	range_km, top_speed_kmh, battery_kwh, image_key, is_published, created_at, updated_at`

// List retrieves products with pagination and optional name search
func (r *ProductRepo) List(ctx context.Context, params ListProductParams) ([]Product, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 20
	}
	if params.Limit > 100 {
		params.Limit = 100
	}

	baseQuery := ` FROM products WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.PublishedOnly {
		baseQuery += " AND is_published = TRUE"
	}
	if params.Search != "" {
		baseQuery += fmt.Sprintf(" AND (LOWER(name) LIKE LOWER($%d) OR LOWER(tagline) LIKE LOWER($%d))", argIdx, argIdx)
		args = append(args, "%"+params.Search+"%")
		argIdx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	selectQuery := "SELECT " + productColumns + baseQuery +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, (params.Page-1)*params.Limit)

	products := []Product{}
	if err := r.db.SelectContext(ctx, &products, selectQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to query products: %w", err)
	}

	return products, total, nil
}

// GetByID retrieves a product by ID regardless of publication state
func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	var p Product
	err := r.db.GetContext(ctx, &p, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// GetBySlug retrieves a product by slug
func (r *ProductRepo) GetBySlug(ctx context.Context, slug string, publishedOnly bool) (*Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE slug = $1"
	if publishedOnly {
		query += " AND is_published = TRUE"
	}

	var p Product
	if err := r.db.GetContext(ctx, &p, query, strings.ToLower(slug)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product by slug: %w", err)
	}
	return &p, nil
}

// Create inserts a new product
func (r *ProductRepo) Create(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	query := `
		INSERT INTO products (id, slug, name, tagline, description, price_cents, currency,
			range_km, top_speed_kmh, battery_kwh, is_published)
		VALUES (:id, :slug, :name, :tagline, :description, :price_cents, :currency,
			:range_km, :top_speed_kmh, :battery_kwh, :is_published)
		RETURNING created_at, updated_at
	`

	rows, err := r.db.NamedQueryContext(ctx, query, p)
	if err != nil {
		if strings.Contains(err.Error(), "idx_products_slug") {
			return ErrProductSlugExists
		}
		return fmt.Errorf("failed to create product: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan created product: %w", err)
		}
	}
	return rows.Err()
}

// Update replaces the editable fields of a product
func (r *ProductRepo) Update(ctx context.Context, p *Product) error {
	query := `
		UPDATE products SET
			slug = :slug, name = :name, tagline = :tagline, description = :description,
			price_cents = :price_cents, currency = :currency, range_km = :range_km,
			top_speed_kmh = :top_speed_kmh, battery_kwh = :battery_kwh,
			is_published = :is_published, updated_at = NOW()
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		if strings.Contains(err.Error(), "idx_products_slug") {
			return ErrProductSlugExists
		}
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// SetImageKey stores (or clears) the object storage key of the product image
func (r *ProductRepo) SetImageKey(ctx context.Context, id uuid.UUID, key *string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE products SET image_key = $1, updated_at = NOW() WHERE id = $2`, key, id)
	if err != nil {
		return fmt.Errorf("failed to set product image: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// Delete removes a product
func (r *ProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrProductNotFound
	}
	return nil
}

// ReferencedImageKeys returns the subset of keys still stored on a product
func (r *ProductRepo) ReferencedImageKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	referenced := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return referenced, nil
	}

	query, args, err := sqlx.In(`SELECT image_key FROM products WHERE image_key IN (?)`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to build image key query: %w", err)
	}

	var found []string
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to check image keys: %w", err)
	}
	for _, k := range found {
		referenced[k] = true
	}
	return referenced, nil
}
