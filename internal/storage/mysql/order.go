package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-orders/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by MySQL.
type OrderRepository struct {
	db  *sql.DB
	tx  *Transactor
	now func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses the given database.
func NewOrderRepository(sqlDB *sql.DB) *OrderRepository {
	return &OrderRepository{db: sqlDB, tx: NewTransactor(sqlDB), now: time.Now}
}

// Create inserts the order header and its lines in one transaction.
func (r *OrderRepository) Create(ctx context.Context, no order.NewOrder) (*order.Order, error) {
	o := &order.Order{
		ID:         uuid.New().String(),
		CustomerID: no.CustomerID,
		Lines:      no.Lines,
		Total:      no.Total,
		CreatedAt:  r.now().UTC().Truncate(time.Microsecond),
	}

	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, total, created_at)
			VALUES (?, ?, ?, ?)`,
			o.ID, o.CustomerID, o.Total, o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, l := range no.Lines {
			_, err := q.ExecContext(ctx, `
				INSERT INTO order_products (order_id, position, product_id, quantity, price)
				VALUES (?, ?, ?, ?, ?)`,
				o.ID, i, l.ProductID, l.Quantity, l.Price,
			)
			if err != nil {
				return fmt.Errorf("insert order line %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// FindByID returns order.ErrNotFound when no order has the given id.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	q := conn(ctx, r.db)

	o := &order.Order{ID: id}
	err := q.QueryRowContext(ctx,
		`SELECT customer_id, total, created_at FROM orders WHERE id = ?`, id,
	).Scan(&o.CustomerID, &o.Total, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order %q: %w", id, err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity, price FROM order_products
		WHERE order_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query order lines %q: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l order.Line
		if err := rows.Scan(&l.ProductID, &l.Quantity, &l.Price); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query order lines %q: %w", id, err)
	}
	return o, nil
}
