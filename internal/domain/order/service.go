package order

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/product"
)

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/order"

// CreateOrderRequest holds the input for placing an order.
type CreateOrderRequest struct {
	CustomerID string
	Products   []LineRequest
}

// Option configures a Service.
type Option func(*Service)

// WithTransactor makes the stock update and the order insert share one
// storage transaction, so a failed insert leaves stock untouched.
func WithTransactor(tx Transactor) Option {
	return func(s *Service) { s.tx = tx }
}

// WithConflictRetries sets how many times a placement is re-run after
// product.ErrStaleStock, waiting at least interval between attempts.
func WithConflictRetries(retries uint, interval time.Duration) Option {
	return func(s *Service) {
		s.retries = retries
		s.retryInterval = interval
	}
}

// WithTracerProvider sets the tracer provider. Defaults to a noop provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tp = tp }
}

// WithMeterProvider sets the meter provider. Defaults to a noop provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.mp = mp }
}

// Service encapsulates order placement business logic.
type Service struct {
	customers customer.Repository
	products  product.Repository
	orders    Repository
	tx        Transactor

	retries       uint
	retryInterval time.Duration

	tp        trace.TracerProvider
	mp        metric.MeterProvider
	tracer    trace.Tracer
	created   metric.Int64Counter
	failed    metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Repository,
	products product.Repository,
	orders Repository,
	opts ...Option,
) *Service {
	s := &Service{
		customers:     customers,
		products:      products,
		orders:        orders,
		retries:       3,
		retryInterval: 10 * time.Millisecond,
		tp:            tracenoop.NewTracerProvider(),
		mp:            metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tp.Tracer(instrumentationName)
	meter := s.mp.Meter(instrumentationName)
	s.created = counter(meter, "orders.created", "Orders placed")
	s.failed = counter(meter, "orders.failed", "Order placements rejected or failed")
	s.conflicts = counter(meter, "orders.stock_conflicts", "Stock writes rejected by a concurrent update")
	return s
}

func counter(m metric.Meter, name, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return metricnoop.Int64Counter{}
	}
	return c
}

// CreateOrder resolves the customer, batch-loads the requested products,
// validates and prices every line, decrements stock and writes the order.
// Any failure is returned as an *Error and aborts the whole call.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (o *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.create", trace.WithAttributes(
		attribute.String("order.customer_id", req.CustomerID),
		attribute.Int("order.lines", len(req.Products)),
	))
	defer func() {
		s.observe(ctx, span, o, err)
		span.End()
	}()

	c, err := s.customers.FindByID(ctx, req.CustomerID)
	switch {
	case errors.Is(err, customer.ErrNotFound):
		return nil, customerNotFound(req.CustomerID)
	case err != nil:
		return nil, infrastructure("find customer", err)
	case c == nil:
		return nil, customerNotFound(req.CustomerID)
	}

	ids := distinctIDs(req.Products)
	lg := zctx.From(ctx)

	o, err = backoff.Retry(ctx, func() (*Order, error) {
		o, err := s.place(ctx, c.ID, ids, req.Products)
		if err != nil && !errors.Is(err, product.ErrStaleStock) {
			return nil, backoff.Permanent(err)
		}
		return o, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.conflicts.Add(ctx, 1)
			lg.Warn("Stock changed concurrently, retrying",
				zap.String("customer_id", c.ID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		var oe *Error
		if !errors.As(err, &oe) {
			oe = infrastructure("place order", err)
		}
		if oe.StockCommitted {
			lg.Error("Stock decremented but order not written",
				zap.String("customer_id", c.ID),
				zap.Error(oe),
			)
		}
		return nil, oe
	}

	lg.Debug("Order placed",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Int("lines", len(o.Lines)),
		zap.Stringer("total", o.Total),
	)
	return o, nil
}

// place runs one attempt of lookup, validation and persistence.
func (s *Service) place(ctx context.Context, customerID string, ids []string, reqs []LineRequest) (*Order, error) {
	found, err := s.products.FindAllByID(ctx, ids)
	if err != nil {
		return nil, infrastructure("find products", err)
	}

	staged, err := BuildLines(reqs, found)
	if err != nil {
		return nil, err
	}

	no := NewOrder{
		CustomerID: customerID,
		Lines:      staged.Lines,
		Total:      Total(staged.Lines),
	}
	if s.tx == nil {
		return s.persist(ctx, staged.Updates, no)
	}

	var created *Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.persist(ctx, staged.Updates, no)
		return err
	})
	if err != nil {
		var oe *Error
		if errors.As(err, &oe) {
			// Rolled back together with the order insert.
			oe.StockCommitted = false
			return nil, oe
		}
		return nil, infrastructure("commit order", err)
	}
	return created, nil
}

func (s *Service) persist(ctx context.Context, updates []product.Product, no NewOrder) (*Order, error) {
	if len(updates) > 0 {
		if err := s.products.UpdateQuantity(ctx, updates); err != nil {
			return nil, infrastructure("update stock", err)
		}
	}

	o, err := s.orders.Create(ctx, no)
	if err != nil {
		return nil, &Error{
			Kind:           KindInfrastructure,
			Op:             "create order",
			StockCommitted: len(updates) > 0,
			Err:            err,
		}
	}
	return o, nil
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 10 * s.retryInterval
	return b
}

func (s *Service) observe(ctx context.Context, span trace.Span, o *Order, err error) {
	if err != nil {
		kind := KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		span.SetAttributes(attribute.String("order.error_kind", kind))
		s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		return
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	s.created.Add(ctx, 1)
}

// GetOrder returns a previously placed order. It returns ErrNotFound when
// the id does not resolve.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}
	return o, nil
}
