// Package fixture reads catalog fixtures: customers and products in JSON,
// optionally gzip-compressed.
//
//	{
//	  "customers": [{"id": "C1", "name": "Ada", "email": "ada@example.com"}],
//	  "products":  [{"id": "P1", "name": "Widget", "price": "10.00", "quantity": 5}]
//	}
package fixture

import (
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/customer"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// Set is a decoded fixture file.
type Set struct {
	Customers []customer.Customer
	Products  []product.Product
}

// Load reads path. Files ending in .gz are decompressed.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	return Decode(r)
}

// Decode parses a fixture document from r.
func Decode(r io.Reader) (*Set, error) {
	var s Set
	d := jx.Decode(r, 4096)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customers":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCustomer(d)
				if err != nil {
					return errors.Wrapf(err, "customers[%d]", len(s.Customers))
				}
				s.Customers = append(s.Customers, c)
				return nil
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return errors.Wrapf(err, "products[%d]", len(s.Products))
				}
				s.Products = append(s.Products, p)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode fixture")
	}
	return &s, nil
}

func decodeCustomer(d *jx.Decoder) (customer.Customer, error) {
	var c customer.Customer
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			c.ID, err = d.Str()
		case "name":
			c.Name, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && c.ID == "" {
		err = errors.New("id is required")
	}
	return c, err
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "quantity":
			p.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	switch {
	case err != nil:
	case p.ID == "":
		err = errors.New("id is required")
	case p.Price.IsNegative():
		err = errors.Errorf("negative price %s", p.Price)
	case p.Quantity < 0:
		err = errors.Wrapf(product.ErrNegativeQuantity, "quantity %d", p.Quantity)
	}
	return p, err
}

// decodeDecimal accepts both 10.5 and "10.50".
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		s = v
	default:
		v, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		s = v.String()
	}
	return decimal.NewFromString(s)
}
