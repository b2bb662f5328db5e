package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, customer_id, total)
		VALUES ($1, $2, $3) RETURNING created_at`

	createOrderProductSQL = `INSERT INTO order_products (order_id, position, product_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5)`

	getOrderByIDSQL = `SELECT customer_id, total, created_at FROM orders WHERE id = $1`

	listOrderProductsSQL = `SELECT product_id, quantity, price
		FROM order_products WHERE order_id = $1 ORDER BY position`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	tx   *Transactor
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, tx: NewTransactor(pool)}
}

// Create inserts the order header and its lines in one transaction.
func (r *OrderRepository) Create(ctx context.Context, no order.NewOrder) (*order.Order, error) {
	id := uuid.New()
	o := &order.Order{
		ID:         id.String(),
		CustomerID: no.CustomerID,
		Lines:      no.Lines,
		Total:      no.Total,
	}

	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		if err := q.QueryRow(ctx, createOrderSQL, id, no.CustomerID, no.Total).Scan(&o.CreatedAt); err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}
		if len(no.Lines) == 0 {
			return nil
		}

		b := &pgx.Batch{}
		for i, l := range no.Lines {
			b.Queue(createOrderProductSQL, id, i, l.ProductID, l.Quantity, l.Price)
		}
		if err := q.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("creating lines of order %q: %w", o.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

// FindByID returns order.ErrNotFound when id is not a known order UUID.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return nil, order.ErrNotFound
	}

	q := conn(ctx, r.pool)
	o := &order.Order{ID: oid.String()}
	err = q.QueryRow(ctx, getOrderByIDSQL, oid).Scan(&o.CustomerID, &o.Total, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", id, err)
	}
	o.CreatedAt = o.CreatedAt.UTC()

	rows, err := q.Query(ctx, listOrderProductsSQL, oid)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", id, err)
	}
	o.Lines, err = pgx.CollectRows(rows, scanLine)
	if err != nil {
		return nil, fmt.Errorf("listing lines of order %q: %w", id, err)
	}
	return o, nil
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var (
		l     order.Line
		price decimal.Decimal
	)
	err := row.Scan(&l.ProductID, &l.Quantity, &price)
	l.Price = price
	return l, err
}
