package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price, quantity, version
		FROM products WHERE id = ANY($1)`

	updateProductQuantitySQL = `UPDATE products
		SET quantity = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $3`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
	tx   *Transactor
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool, tx: NewTransactor(pool)}
}

// FindAllByID returns the products matching any of the given IDs in one
// query. Unknown IDs are skipped.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// UpdateQuantity writes the new quantities in one transaction. Each row is
// updated only if its version still matches; otherwise the whole batch is
// rolled back and product.ErrStaleStock is returned.
func (r *ProductRepository) UpdateQuantity(ctx context.Context, products []product.Product) error {
	if err := product.ValidateQuantities(products); err != nil {
		return err
	}
	if len(products) == 0 {
		return nil
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		b := &pgx.Batch{}
		for _, p := range products {
			b.Queue(updateProductQuantitySQL, p.ID, p.Quantity, p.Version)
		}

		br := conn(ctx, r.pool).SendBatch(ctx, b)
		err := checkUpdates(br, products)
		if cerr := br.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("updating product quantities: %w", cerr)
		}
		return err
	})
}

func checkUpdates(br pgx.BatchResults, products []product.Product) error {
	for _, p := range products {
		tag, err := br.Exec()
		if err != nil {
			return fmt.Errorf("updating product %q: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("updating product %q: %w", p.ID, product.ErrStaleStock)
		}
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Quantity, &p.Version)
	p.Price = price
	return p, err
}
