package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/customer"
)

const getCustomerByIDSQL = `SELECT id, name, email FROM customers WHERE id = $1`

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// FindByID returns customer.ErrNotFound when no customer has the given id.
func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getCustomerByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding customer %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("finding customer %q: %w", id, err)
	}
	return &c, nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var c customer.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email)
	return c, err
}
