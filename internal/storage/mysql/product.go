package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xenking/kart-orders/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by MySQL.
type ProductRepository struct {
	db *sql.DB
	tx *Transactor
}

// NewProductRepository returns a ProductRepository that uses the given database.
func NewProductRepository(sqlDB *sql.DB) *ProductRepository {
	return &ProductRepository{db: sqlDB, tx: NewTransactor(sqlDB)}
}

// FindAllByID returns the products matching any of the given IDs in one
// query. Unknown IDs are skipped.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, name, price, quantity, version FROM products WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []product.Product
	for rows.Next() {
		var p product.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.Version); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	return out, nil
}

// UpdateQuantity writes the new quantities in one transaction, each guarded
// by the product version. A version mismatch rolls back the whole batch and
// returns product.ErrStaleStock.
func (r *ProductRepository) UpdateQuantity(ctx context.Context, products []product.Product) error {
	if err := product.ValidateQuantities(products); err != nil {
		return err
	}
	if len(products) == 0 {
		return nil
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		for _, p := range products {
			result, err := q.ExecContext(ctx, `
				UPDATE products
				SET quantity = ?, version = version + 1
				WHERE id = ? AND version = ?`,
				p.Quantity, p.ID, p.Version,
			)
			if err != nil {
				return fmt.Errorf("update product %q: %w", p.ID, err)
			}

			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("update product %q: %w", p.ID, err)
			}
			if rows == 0 {
				return fmt.Errorf("update product %q: %w", p.ID, product.ErrStaleStock)
			}
		}
		return nil
	})
}

// UpsertProduct inserts the product or overwrites it, bumping its version.
func (r *ProductRepository) UpsertProduct(ctx context.Context, p product.Product) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO products (id, name, price, quantity) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			price = VALUES(price),
			quantity = VALUES(quantity),
			version = version + 1`,
		p.ID, p.Name, p.Price, p.Quantity,
	)
	if err != nil {
		return fmt.Errorf("upsert product %q: %w", p.ID, err)
	}
	return nil
}
