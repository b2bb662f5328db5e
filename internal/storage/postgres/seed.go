package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	upsertCustomerSQL = `INSERT INTO customers (id, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`

	upsertProductSQL = `INSERT INTO products (id, name, price, quantity) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			version = products.version + 1,
			updated_at = now()`
)

// Seeder upserts catalog fixtures.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertCustomer inserts the customer or overwrites its attributes.
func (s *Seeder) UpsertCustomer(ctx context.Context, c customer.Customer) error {
	if _, err := s.pool.Exec(ctx, upsertCustomerSQL, c.ID, c.Name, c.Email); err != nil {
		return fmt.Errorf("upserting customer %q: %w", c.ID, err)
	}
	return nil
}

// UpsertProduct inserts the product or overwrites it. Overwriting bumps the
// version so in-flight orders against the old stock level are rejected.
func (s *Seeder) UpsertProduct(ctx context.Context, p product.Product) error {
	if _, err := s.pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Quantity); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}
