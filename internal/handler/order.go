package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// CreateOrder handles POST /api/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	req, err := decodeCreateOrder(jx.Decode(http.MaxBytesReader(w, r.Body, maxBodySize), 512))
	if err != nil {
		writeError(w, apiError{Code: http.StatusBadRequest, Message: "malformed request body: " + err.Error()})
		return
	}
	if err := validateCreateOrder(req); err != nil {
		writeError(w, apiError{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	reserved := false
	if key != "" && h.keys != nil {
		existing, ok, err := h.keys.Acquire(ctx, key)
		if err != nil {
			lg.Error("Acquire idempotency key", zap.String("key", key), zap.Error(err))
			writeError(w, apiError{Code: http.StatusInternalServerError, Message: "internal error"})
			return
		}
		if !ok {
			writeError(w, apiError{
				Code:    http.StatusConflict,
				Message: "duplicate request for idempotency key",
				OrderID: existing,
			})
			return
		}
		reserved = true
	}

	o, err := h.orders.CreateOrder(ctx, req)
	if err != nil {
		if reserved {
			h.releaseKey(r, key, err)
		}
		h.writeOrderError(w, r, err)
		return
	}
	if reserved {
		if cerr := h.keys.Complete(ctx, key, o.ID); cerr != nil {
			lg.Warn("Complete idempotency key", zap.String("key", key), zap.Error(cerr))
		}
	}

	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// releaseKey frees the idempotency key after a failed placement so the client
// may retry. The key is kept when stock was decremented without an order being
// written: a retry would decrement it again.
func (h *Handler) releaseKey(r *http.Request, key string, cause error) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	var oe *order.Error
	if errors.As(cause, &oe) && oe.StockCommitted {
		lg.Warn("Keeping idempotency key, stock already committed", zap.String("key", key))
		return
	}
	if err := h.keys.Release(ctx, key); err != nil {
		lg.Warn("Release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, apiError{Code: http.StatusNotFound, Message: "order " + id + " not found"})
			return
		}
		zctx.From(r.Context()).Error("Get order", zap.String("order_id", id), zap.Error(err))
		writeError(w, apiError{Code: http.StatusInternalServerError, Message: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// writeOrderError maps order placement errors to responses. Business
// rejections are 422 with the offending ids; everything else is a 500 whose
// cause is logged, never returned.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *order.Error
	if !errors.As(err, &oe) || oe.Kind == order.KindInfrastructure {
		zctx.From(r.Context()).Error("Create order", zap.Error(err))
		writeError(w, apiError{Code: http.StatusInternalServerError, Message: "internal error"})
		return
	}

	a := apiError{
		Code:        http.StatusUnprocessableEntity,
		Message:     oe.Error(),
		Kind:        oe.Kind.String(),
		CustomerID:  oe.CustomerID,
		ProductID:   oe.ProductID,
		ProductName: oe.ProductName,
		Requested:   oe.Requested,
		Available:   oe.Available,
	}
	if oe.Kind == order.KindInvalidQuantity {
		a.Code = http.StatusBadRequest
	}
	writeError(w, a)
}
