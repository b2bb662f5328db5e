package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/customer"
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by MySQL.
type CustomerRepository struct {
	db *sql.DB
}

// NewCustomerRepository returns a CustomerRepository that uses the given database.
func NewCustomerRepository(sqlDB *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: sqlDB}
}

// FindByID returns customer.ErrNotFound when no customer has the given id.
func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, email FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query customer %q: %w", id, err)
	}
	return &c, nil
}

// UpsertCustomer inserts the customer or overwrites its attributes.
func (r *CustomerRepository) UpsertCustomer(ctx context.Context, c customer.Customer) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO customers (id, name, email) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email)`,
		c.ID, c.Name, c.Email,
	)
	if err != nil {
		return fmt.Errorf("upsert customer %q: %w", c.ID, err)
	}
	return nil
}
