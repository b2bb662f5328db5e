package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an order identifier does not resolve.
var ErrNotFound = errors.New("order not found")

// Order is a persisted purchase: a customer reference and its priced lines.
type Order struct {
	ID         string
	CustomerID string
	Lines      []Line
	Total      decimal.Decimal
	CreatedAt  time.Time
}

// Line is one priced product-quantity pair of an order. Price is copied from
// the product when the order is placed.
type Line struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns Price * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineRequest is a caller-supplied product id and quantity.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// NewOrder is the input of Repository.Create.
type NewOrder struct {
	CustomerID string
	Lines      []Line
	Total      decimal.Decimal
}

// Repository persists orders together with their lines.
type Repository interface {
	// Create inserts the order header and lines as one unit and returns the
	// stored order with its generated ID and creation time.
	Create(ctx context.Context, o NewOrder) (*Order, error)
	FindByID(ctx context.Context, id string) (*Order, error)
}

// Transactor runs fn inside a single storage transaction. Repository calls
// made with the context passed to fn join that transaction. If fn returns an
// error every write made through it is rolled back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Total sums the line subtotals, rounded to 2 decimal places.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total.Round(2)
}
