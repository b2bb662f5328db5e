package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// decodeCreateOrder parses
//
//	{"customer_id": "C1", "products": [{"id": "P1", "quantity": 3}]}
//
// Unknown fields are ignored. Anything after the object is rejected.
func decodeCreateOrder(d *jx.Decoder) (order.CreateOrderRequest, error) {
	var req order.CreateOrderRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customer_id":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "customer_id")
			}
			req.CustomerID = v
		case "products":
			if err := d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Products = append(req.Products, line)
				return nil
			}); err != nil {
				return errors.Wrap(err, "products")
			}
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return req, err
	}
	if err := d.Skip(); !errors.Is(err, io.EOF) {
		return req, errors.New("unexpected data after request object")
	}
	return req, nil
}

func decodeLine(d *jx.Decoder) (order.LineRequest, error) {
	var line order.LineRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "id")
			}
			line.ProductID = v
		case "quantity":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "quantity")
			}
			line.Quantity = v
		default:
			return d.Skip()
		}
		return nil
	})
	return line, err
}

// validateCreateOrder applies the API policy on top of the domain rules:
// the API never accepts empty orders or non-positive quantities.
func validateCreateOrder(req order.CreateOrderRequest) error {
	if req.CustomerID == "" {
		return errors.New("customer_id is required")
	}
	if len(req.Products) == 0 {
		return errors.New("products must not be empty")
	}
	for i, p := range req.Products {
		if p.ProductID == "" {
			return errors.Errorf("products[%d]: id is required", i)
		}
		if p.Quantity <= 0 {
			return errors.Errorf("products[%d]: quantity must be greater than 0 for product %s", i, p.ProductID)
		}
	}
	return nil
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(l.Price.String())) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
}

// apiError is the body of every non-2xx response.
type apiError struct {
	Code    int
	Message string

	Kind        string
	CustomerID  string
	ProductID   string
	ProductName string
	Requested   int
	Available   int
	OrderID     string
}

func (a apiError) encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(a.Code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(a.Message) })
		str := func(name, v string) {
			if v != "" {
				e.Field(name, func(e *jx.Encoder) { e.Str(v) })
			}
		}
		str("kind", a.Kind)
		str("customer_id", a.CustomerID)
		str("product_id", a.ProductID)
		str("product_name", a.ProductName)
		if a.Kind == order.KindInsufficientStock.String() {
			e.Field("requested", func(e *jx.Encoder) { e.Int(a.Requested) })
			e.Field("available", func(e *jx.Encoder) { e.Int(a.Available) })
		}
		str("order_id", a.OrderID)
	})
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, a apiError) {
	writeJSON(w, a.Code, a.encode)
}
