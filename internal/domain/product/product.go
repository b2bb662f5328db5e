package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrStaleStock is returned by UpdateQuantity when a product was modified
	// after it was read. Nothing is written when it is returned.
	ErrStaleStock = errors.New("product stock modified concurrently")
	// ErrNegativeQuantity is returned when a write would leave stock below zero.
	ErrNegativeQuantity = errors.New("product quantity must not be negative")
)

// Product represents a catalog item with its available stock.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Quantity int
	// Version is bumped on every stock write and guards conditional updates.
	Version int64
}

// Repository defines the catalog operations used by order placement.
type Repository interface {
	// FindAllByID returns the subset of ids that exist, in a single round trip.
	// Missing ids are not an error.
	FindAllByID(ctx context.Context, ids []string) ([]Product, error)
	// UpdateQuantity writes the Quantity of every given product, all or none.
	// Each write is conditional on the product still having the Version it
	// was read with; otherwise ErrStaleStock is returned.
	UpdateQuantity(ctx context.Context, products []Product) error
}

// ValidateQuantities rejects a batch that would store negative stock.
// Store implementations call it before issuing any write.
func ValidateQuantities(products []Product) error {
	for _, p := range products {
		if p.Quantity < 0 {
			return errors.Wrapf(ErrNegativeQuantity, "product %s", p.ID)
		}
	}
	return nil
}
