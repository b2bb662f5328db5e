package order

import (
	"context"
	"fmt"
	"maps"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// --- Mock implementations ---

type mockCustomerRepo struct {
	byID  map[string]*customer.Customer
	err   error
	calls int
}

func (m *mockCustomerRepo) FindByID(_ context.Context, id string) (*customer.Customer, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return c, nil
}

type mockProductRepo struct {
	byID      map[string]product.Product
	findErr   error
	findCalls [][]string

	updates    [][]product.Product
	updateErrs []error
	// onUpdateErr runs when a queued update error is returned.
	onUpdateErr func(m *mockProductRepo)
}

func (m *mockProductRepo) FindAllByID(_ context.Context, ids []string) ([]product.Product, error) {
	m.findCalls = append(m.findCalls, ids)
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) UpdateQuantity(_ context.Context, products []product.Product) error {
	m.updates = append(m.updates, products)
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		if err != nil {
			if m.onUpdateErr != nil {
				m.onUpdateErr(m)
			}
			return err
		}
	}
	for _, p := range products {
		cur := m.byID[p.ID]
		cur.Quantity = p.Quantity
		cur.Version++
		m.byID[p.ID] = cur
	}
	return nil
}

func (m *mockProductRepo) stock(id string) int {
	return m.byID[id].Quantity
}

type mockOrderRepo struct {
	created []NewOrder
	byID    map[string]*Order
	err     error
	findErr error
}

func (m *mockOrderRepo) Create(_ context.Context, no NewOrder) (*Order, error) {
	m.created = append(m.created, no)
	if m.err != nil {
		return nil, m.err
	}
	o := &Order{
		ID:         fmt.Sprintf("order-%d", len(m.created)),
		CustomerID: no.CustomerID,
		Lines:      no.Lines,
		Total:      no.Total,
		CreatedAt:  time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	if m.byID == nil {
		m.byID = make(map[string]*Order)
	}
	m.byID[o.ID] = o
	return o, nil
}

func (m *mockOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

// mockTransactor restores the product mock when fn fails.
type mockTransactor struct {
	products *mockProductRepo
	calls    int
	err      error
}

func (m *mockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	snapshot := maps.Clone(m.products.byID)
	if err := fn(ctx); err != nil {
		m.products.byID = snapshot
		return err
	}
	if m.err != nil {
		m.products.byID = snapshot
		return m.err
	}
	return nil
}

// --- Helpers ---

func newTestProduct(id, name, price string, qty int) product.Product {
	return product.Product{
		ID:       id,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Quantity: qty,
	}
}

func newCustomerRepo(ids ...string) *mockCustomerRepo {
	byID := make(map[string]*customer.Customer, len(ids))
	for _, id := range ids {
		byID[id] = &customer.Customer{ID: id, Name: "Customer " + id}
	}
	return &mockCustomerRepo{byID: byID}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockProductRepo{byID: byID}
}

func lines(pairs ...any) []LineRequest {
	out := make([]LineRequest, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, LineRequest{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func noRetries() Option {
	return WithConflictRetries(0, 0)
}

// --- Tests ---

func TestCreateOrder_Success(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "10.00", 5))
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo("C1"), products, orders)

	o, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 3),
	})

	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, "C1", o.CustomerID)
	assert.Equal(t, "P1", o.Lines[0].ProductID)
	assert.Equal(t, 3, o.Lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("10.00").Equal(o.Lines[0].Price))
	assert.True(t, decimal.RequireFromString("30.00").Equal(o.Total))
	assert.Equal(t, 2, products.stock("P1"))
}

func TestCreateOrder_MultipleLines(t *testing.T) {
	products := newProductRepo(
		newTestProduct("P1", "Widget", "10.00", 5),
		newTestProduct("P2", "Gadget", "2.50", 10),
	)
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{})

	o, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P2", 4, "P1", 1),
	})

	require.NoError(t, err)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "P2", o.Lines[0].ProductID)
	assert.Equal(t, "P1", o.Lines[1].ProductID)
	assert.True(t, decimal.RequireFromString("20.00").Equal(o.Total))
	assert.Equal(t, 4, products.stock("P1"))
	assert.Equal(t, 6, products.stock("P2"))
}

func TestCreateOrder_CustomerNotFound(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "10.00", 5))
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo(), products, orders)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C404",
		Products:   lines("P1", 1),
	})

	require.ErrorIs(t, err, ErrCustomerNotFound)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "C404", oe.CustomerID)
	assert.Empty(t, products.findCalls)
	assert.Empty(t, products.updates)
	assert.Empty(t, orders.created)
	assert.Equal(t, 5, products.stock("P1"))
}

func TestCreateOrder_CustomerLookupError(t *testing.T) {
	customers := &mockCustomerRepo{err: errors.New("connection refused")}
	svc := NewService(customers, newProductRepo(), &mockOrderRepo{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{CustomerID: "C1"})

	require.ErrorIs(t, err, ErrInfrastructure)
	assert.Contains(t, err.Error(), "find customer")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCreateOrder_ProductNotFound(t *testing.T) {
	products := newProductRepo(
		newTestProduct("P1", "Widget", "10.00", 5),
		newTestProduct("P2", "Gadget", "3.00", 5),
	)
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo("C1"), products, orders)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 1, "P9", 1, "P2", 1),
	})

	require.ErrorIs(t, err, ErrProductNotFound)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "P9", oe.ProductID)
	assert.Empty(t, products.updates)
	assert.Empty(t, orders.created)
	assert.Equal(t, 5, products.stock("P1"))
	assert.Equal(t, 5, products.stock("P2"))
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "10.00", 2))
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo("C1"), products, orders)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 5),
	})

	require.ErrorIs(t, err, ErrInsufficientStock)
	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "P1", oe.ProductID)
	assert.Equal(t, "Widget", oe.ProductName)
	assert.Equal(t, 3, oe.Shortfall())
	assert.Contains(t, err.Error(), "Widget")
	assert.Empty(t, products.updates)
	assert.Empty(t, orders.created)
	assert.Equal(t, 2, products.stock("P1"))
}

func TestCreateOrder_DuplicateProductAccumulates(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		q1, q2    int
		wantErr   bool
		wantStock int
	}{
		{name: "both lines fit", stock: 5, q1: 2, q2: 3, wantStock: 0},
		{name: "second line exceeds reduced stock", stock: 5, q1: 3, q2: 3, wantErr: true, wantStock: 5},
		{name: "first line takes everything", stock: 4, q1: 4, q2: 1, wantErr: true, wantStock: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products := newProductRepo(newTestProduct("P1", "Widget", "1.00", tt.stock))
			svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{})

			o, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
				CustomerID: "C1",
				Products:   lines("P1", tt.q1, "P1", tt.q2),
			})

			assert.Equal(t, tt.wantStock, products.stock("P1"))
			if tt.wantErr {
				var oe *Error
				require.ErrorAs(t, err, &oe)
				assert.Equal(t, KindInsufficientStock, oe.Kind)
				assert.Equal(t, tt.q2, oe.Requested)
				assert.Equal(t, tt.stock-tt.q1, oe.Available)
				return
			}
			require.NoError(t, err)
			assert.Len(t, o.Lines, 2)
		})
	}
}

func TestCreateOrder_BatchLookupUsesDistinctIDs(t *testing.T) {
	products := newProductRepo(
		newTestProduct("P1", "Widget", "1.00", 10),
		newTestProduct("P2", "Gadget", "1.00", 10),
	)
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 1, "P2", 1, "P1", 2),
	})

	require.NoError(t, err)
	require.Len(t, products.findCalls, 1)
	assert.Equal(t, []string{"P1", "P2"}, products.findCalls[0])
	require.Len(t, products.updates, 1)
	assert.Len(t, products.updates[0], 2)
}

func TestCreateOrder_EmptyRequest(t *testing.T) {
	products := newProductRepo()
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo("C1"), products, orders)

	o, err := svc.CreateOrder(context.Background(), CreateOrderRequest{CustomerID: "C1"})

	require.NoError(t, err)
	assert.Empty(t, o.Lines)
	assert.True(t, decimal.Zero.Equal(o.Total))
	assert.Empty(t, products.updates)
	assert.Len(t, orders.created, 1)
}

func TestCreateOrder_NegativeQuantity(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", -2),
	})

	require.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Equal(t, 5, products.stock("P1"))
	assert.Empty(t, products.updates)
}

func TestCreateOrder_ProductLookupError(t *testing.T) {
	products := newProductRepo()
	products.findErr = errors.New("timeout")
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 1),
	})

	require.ErrorIs(t, err, ErrInfrastructure)
	assert.Contains(t, err.Error(), "find products")
}

func TestCreateOrder_UpdateStockError(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	products.updateErrs = []error{errors.New("disk full")}
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo("C1"), products, orders)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 1),
	})

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindInfrastructure, oe.Kind)
	assert.Equal(t, "update stock", oe.Op)
	assert.False(t, oe.StockCommitted)
	assert.Empty(t, orders.created)
}

func TestCreateOrder_CreateErrorWithoutTransactor(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	orders := &mockOrderRepo{err: errors.New("db write failed")}
	svc := NewService(newCustomerRepo("C1"), products, orders)

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 2),
	})

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindInfrastructure, oe.Kind)
	assert.Equal(t, "create order", oe.Op)
	assert.True(t, oe.StockCommitted)
	assert.Contains(t, err.Error(), "stock already decremented")
	// No compensation without a transactor.
	assert.Equal(t, 3, products.stock("P1"))
}

func TestCreateOrder_CreateErrorWithTransactorRollsBack(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	orders := &mockOrderRepo{err: errors.New("db write failed")}
	tx := &mockTransactor{products: products}
	svc := NewService(newCustomerRepo("C1"), products, orders, WithTransactor(tx))

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 2),
	})

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "create order", oe.Op)
	assert.False(t, oe.StockCommitted)
	assert.Equal(t, 1, tx.calls)
	assert.Equal(t, 5, products.stock("P1"))
}

func TestCreateOrder_CommitError(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	tx := &mockTransactor{products: products, err: errors.New("serialization failure")}
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{}, WithTransactor(tx))

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 2),
	})

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "commit order", oe.Op)
	assert.Equal(t, 5, products.stock("P1"))
}

func TestCreateOrder_RetriesOnStaleStock(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	products.updateErrs = []error{product.ErrStaleStock}
	products.onUpdateErr = func(m *mockProductRepo) {
		// A concurrent order took two units.
		p := m.byID["P1"]
		p.Quantity -= 2
		p.Version++
		m.byID["P1"] = p
	}
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{}, WithConflictRetries(2, 0))

	o, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 3),
	})

	require.NoError(t, err)
	assert.Len(t, o.Lines, 1)
	assert.Len(t, products.findCalls, 2)
	assert.Equal(t, 0, products.stock("P1"))
}

func TestCreateOrder_RetryRevalidatesStock(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	products.updateErrs = []error{product.ErrStaleStock}
	products.onUpdateErr = func(m *mockProductRepo) {
		p := m.byID["P1"]
		p.Quantity = 1
		m.byID["P1"] = p
	}
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{}, WithConflictRetries(2, 0))

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 3),
	})

	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Len(t, products.findCalls, 2)
	assert.Equal(t, 1, products.stock("P1"))
}

func TestCreateOrder_StaleStockExhausted(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	products.updateErrs = []error{product.ErrStaleStock, product.ErrStaleStock, product.ErrStaleStock}
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo("C1"), products, orders, WithConflictRetries(2, 0))

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 1),
	})

	require.ErrorIs(t, err, ErrInfrastructure)
	require.ErrorIs(t, err, product.ErrStaleStock)
	assert.Len(t, products.findCalls, 3)
	assert.Empty(t, orders.created)
	assert.Equal(t, 5, products.stock("P1"))
}

func TestCreateOrder_NoRetryOnOtherErrors(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 5))
	products.updateErrs = []error{errors.New("boom")}
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{}, WithConflictRetries(5, 0))

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 1),
	})

	require.ErrorIs(t, err, ErrInfrastructure)
	assert.Len(t, products.findCalls, 1)
}

func TestCreateOrder_PriceCapturedAtOrderTime(t *testing.T) {
	products := newProductRepo(newTestProduct("P1", "Widget", "10.00", 5))
	orders := &mockOrderRepo{}
	svc := NewService(newCustomerRepo("C1"), products, orders, noRetries())

	o, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 1),
	})
	require.NoError(t, err)

	p := products.byID["P1"]
	p.Price = decimal.RequireFromString("99.00")
	products.byID["P1"] = p

	stored, err := svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.00").Equal(stored.Lines[0].Price))
}

func TestCreateOrder_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	products := newProductRepo(newTestProduct("P1", "Widget", "1.00", 1))
	svc := NewService(newCustomerRepo("C1"), products, &mockOrderRepo{}, WithTracerProvider(tp))

	_, err := svc.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "C1",
		Products:   lines("P1", 2),
	})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "order.create", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(),
		attribute.String("order.error_kind", KindInsufficientStock.String()))
}

func TestGetOrder(t *testing.T) {
	orders := &mockOrderRepo{byID: map[string]*Order{
		"o1": {ID: "o1", CustomerID: "C1"},
	}}
	svc := NewService(newCustomerRepo(), newProductRepo(), orders)

	o, err := svc.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "C1", o.CustomerID)

	_, err = svc.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	orders.findErr = errors.New("db down")
	_, err = svc.GetOrder(context.Background(), "o1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "find order")
}
