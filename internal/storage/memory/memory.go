// Package memory implements the customer, product and order stores in
// process memory. It backs the "memory" storage driver and the tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
)

var _ order.Transactor = (*Store)(nil)

// Store holds all records behind one lock.
type Store struct {
	mu        sync.RWMutex
	customers map[string]customer.Customer
	products  map[string]product.Product
	orders    map[string]order.Order

	// txMu serializes WithinTx calls.
	txMu sync.Mutex
	now  func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		customers: make(map[string]customer.Customer),
		products:  make(map[string]product.Product),
		orders:    make(map[string]order.Order),
		now:       time.Now,
	}
}

// PutCustomer inserts or replaces a customer.
func (s *Store) PutCustomer(c customer.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Product returns the stored product and whether it exists.
func (s *Store) Product(id string) (product.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// Orders returns all stored orders.
func (s *Store) Orders() []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

type txKey struct{}

// WithinTx runs fn with exclusive access to the store. If fn fails, product
// and order changes made during fn are discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	products := maps.Clone(s.products)
	orders := maps.Clone(s.orders)
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.products = products
		s.orders = orders
		s.mu.Unlock()
		return err
	}
	return nil
}

// Customers returns a customer.Repository view of the store.
func (s *Store) Customers() *CustomerRepository { return &CustomerRepository{s: s} }

// Products returns a product.Repository view of the store.
func (s *Store) Products() *ProductRepository { return &ProductRepository{s: s} }

// OrderRepository returns an order.Repository view of the store.
func (s *Store) OrderRepository() *OrderRepository { return &OrderRepository{s: s} }

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository.
type CustomerRepository struct{ s *Store }

// FindByID returns the customer or customer.ErrNotFound.
func (r *CustomerRepository) FindByID(_ context.Context, id string) (*customer.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository.
type ProductRepository struct{ s *Store }

// FindAllByID returns copies of the existing products among ids.
func (r *ProductRepository) FindAllByID(_ context.Context, ids []string) ([]product.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateQuantity checks every product version first and writes only if all
// of them still match.
func (r *ProductRepository) UpdateQuantity(_ context.Context, products []product.Product) error {
	if err := product.ValidateQuantities(products); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range products {
		cur, ok := r.s.products[p.ID]
		if !ok || cur.Version != p.Version {
			return errors.Wrapf(product.ErrStaleStock, "product %s", p.ID)
		}
	}
	for _, p := range products {
		cur := r.s.products[p.ID]
		cur.Quantity = p.Quantity
		cur.Version++
		r.s.products[p.ID] = cur
	}
	return nil
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository.
type OrderRepository struct{ s *Store }

// Create stores the order under a new UUID.
func (r *OrderRepository) Create(_ context.Context, no order.NewOrder) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o := order.Order{
		ID:         uuid.New().String(),
		CustomerID: no.CustomerID,
		Lines:      slices.Clone(no.Lines),
		Total:      no.Total,
		CreatedAt:  r.s.now().UTC(),
	}
	r.s.orders[o.ID] = o
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}

// FindByID returns the order or order.ErrNotFound.
func (r *OrderRepository) FindByID(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}
