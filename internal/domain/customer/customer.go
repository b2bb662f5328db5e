package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a customer identifier does not resolve.
var ErrNotFound = errors.New("customer not found")

// Customer is the buyer an order is placed for. The order workflow only reads it.
type Customer struct {
	ID    string
	Name  string
	Email string
}

// Repository provides read access to the customer store.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Customer, error)
}
