package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/temcen/ratingrec/pkg/models"
)

const productColumns = `p.asin, p.title, p.category_id, COALESCE(c.category_name, ''),
		p.price, p.stars, p.reviews, p.img_url`

type ProductRepository struct {
	db DBTX
}

func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

func scanProduct(row pgx.CollectableRow) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Title, &p.CategoryID, &p.CategoryName, &p.Price, &p.Stars, &p.Reviews, &p.ImageURL)
	return p, err
}

func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM amazon_products p
		LEFT JOIN amazon_categories c ON p.category_id = c.id
		WHERE p.asin = $1`

	rows, err := r.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}

	return &p, nil
}

// ListByCategory returns up to limit products of one category in a stable order. The product
// named by includeID, when it belongs to the category, always comes first.
func (r *ProductRepository) ListByCategory(ctx context.Context, categoryID int64, includeID string, limit int) ([]models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM amazon_products p
		LEFT JOIN amazon_categories c ON p.category_id = c.id
		WHERE p.category_id = $1
		ORDER BY (p.asin = $2) DESC, p.asin
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, categoryID, includeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query category products: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("failed to scan category products: %w", err)
	}

	return products, nil
}

// GetProducts resolves the given ids. Unknown ids are simply absent from the result.
func (r *ProductRepository) GetProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + productColumns + `
		FROM amazon_products p
		LEFT JOIN amazon_categories c ON p.category_id = c.id
		WHERE p.asin = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}

	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("failed to scan products: %w", err)
	}

	return products, nil
}
