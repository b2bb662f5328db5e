// Package handler exposes order placement over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// IdempotencyKeyHeader lets clients retry POST /api/orders safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// OrderService places and reads orders.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

// IdempotencyStore reserves Idempotency-Key values. Acquire reports whether
// key was free; if not, orderID is the order already created under it, or
// empty while that request is in flight.
type IdempotencyStore interface {
	Acquire(ctx context.Context, key string) (orderID string, acquired bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithIdempotency enables Idempotency-Key handling backed by store.
func WithIdempotency(store IdempotencyStore) Option {
	return func(h *Handler) { h.keys = store }
}

// Handler serves the orders API.
type Handler struct {
	orders OrderService
	keys   IdempotencyStore
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders OrderService, opts ...Option) *Handler {
	h := &Handler{orders: orders}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
}
