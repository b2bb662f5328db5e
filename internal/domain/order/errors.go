package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Kind classifies an order placement failure.
type Kind int

const (
	// KindInfrastructure is a failed collaborator call (store unavailable,
	// constraint violation, exhausted stock conflicts).
	KindInfrastructure Kind = iota
	// KindCustomerNotFound means the customer id does not resolve.
	KindCustomerNotFound
	// KindProductNotFound means a requested product id does not exist.
	KindProductNotFound
	// KindInsufficientStock means a line asks for more than is available.
	KindInsufficientStock
	// KindInvalidQuantity means a line asks for a negative quantity.
	KindInvalidQuantity
)

func (k Kind) String() string {
	switch k {
	case KindInfrastructure:
		return "infrastructure_failure"
	case KindCustomerNotFound:
		return "customer_not_found"
	case KindProductNotFound:
		return "product_not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindInvalidQuantity:
		return "invalid_quantity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInfrastructure    = &Error{Kind: KindInfrastructure}
	ErrCustomerNotFound  = &Error{Kind: KindCustomerNotFound}
	ErrProductNotFound   = &Error{Kind: KindProductNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidQuantity   = &Error{Kind: KindInvalidQuantity}
)

// Error is the single failure type returned by Service.CreateOrder.
type Error struct {
	Kind Kind

	CustomerID  string
	ProductID   string
	ProductName string
	Requested   int
	Available   int

	// Op names the collaborator call that failed for KindInfrastructure.
	Op string
	// StockCommitted is set when inventory was decremented but the order was
	// not written. The decrement is not compensated.
	StockCommitted bool

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch e.Kind {
	case KindCustomerNotFound:
		fmt.Fprintf(&b, "customer %s not found", e.CustomerID)
	case KindProductNotFound:
		fmt.Fprintf(&b, "product %s not found", e.ProductID)
	case KindInsufficientStock:
		fmt.Fprintf(&b, "insufficient stock for product %s (%s): requested %d, available %d",
			e.ProductName, e.ProductID, e.Requested, e.Available)
	case KindInvalidQuantity:
		fmt.Fprintf(&b, "invalid quantity %d for product %s", e.Requested, e.ProductID)
	default:
		b.WriteString(e.Kind.String())
		if e.Op != "" {
			b.WriteString(": ")
			b.WriteString(e.Op)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.StockCommitted {
		b.WriteString(" (stock already decremented)")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Shortfall returns how many units are missing for KindInsufficientStock.
func (e *Error) Shortfall() int {
	if e.Kind != KindInsufficientStock {
		return 0
	}
	return e.Requested - e.Available
}

// KindOf returns the Kind of the first *Error in err's chain. Errors that
// are not *Error are reported as KindInfrastructure.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindInfrastructure
}

func customerNotFound(id string) *Error {
	return &Error{Kind: KindCustomerNotFound, CustomerID: id}
}

func infrastructure(op string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Op: op, Err: err}
}
