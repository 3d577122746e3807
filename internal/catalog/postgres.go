package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Postgres reads the products and variants tables. The variants table also
// carries the ledger's stock columns, which are not selected here.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (c *Postgres) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	var v Variant
	var override sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT id, product_id, sku, size, color, price_override, active FROM variants WHERE id = $1`,
		variantID,
	).Scan(&v.ID, &v.ProductID, &v.SKU, &v.Size, &v.Color, &override, &v.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	if override.Valid {
		v.PriceOverride = &override.Int64
	}
	return &v, nil
}

func (c *Postgres) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	var from, to sql.NullTime
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, base_price, discount_price, discount_from, discount_to, active FROM products WHERE id = $1`,
		productID,
	).Scan(&p.ID, &p.Name, &p.BasePrice, &p.DiscountPrice, &from, &to, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if from.Valid {
		p.DiscountFrom = &from.Time
	}
	if to.Valid {
		p.DiscountTo = &to.Time
	}
	return &p, nil
}
