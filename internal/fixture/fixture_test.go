package fixture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `{
	"version": 1,
	"customers": [{"id": "C1", "name": "Ada", "email": "ada@example.com", "tier": "gold"}],
	"products": [
		{"id": "P1", "name": "Widget", "price": "10.00", "quantity": 5},
		{"id": "P2", "name": "Gadget", "price": 2.5, "quantity": 0}
	]
}`

func TestDecode(t *testing.T) {
	s, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, s.Customers, 1)
	assert.Equal(t, "ada@example.com", s.Customers[0].Email)

	require.Len(t, s.Products, 2)
	assert.True(t, decimal.RequireFromString("10").Equal(s.Products[0].Price))
	assert.True(t, decimal.RequireFromString("2.5").Equal(s.Products[1].Price))
	assert.Equal(t, 5, s.Products[0].Quantity)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not an object", doc: `[]`},
		{name: "missing product id", doc: `{"products":[{"name":"x","price":1,"quantity":1}]}`},
		{name: "negative quantity", doc: `{"products":[{"id":"P1","price":1,"quantity":-1}]}`},
		{name: "negative price", doc: `{"products":[{"id":"P1","price":"-1","quantity":1}]}`},
		{name: "bad price", doc: `{"products":[{"id":"P1","price":"abc","quantity":1}]}`},
		{name: "missing customer id", doc: `{"customers":[{"name":"x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_Gzip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(plain, []byte(doc), 0o600))

	gz := filepath.Join(dir, "catalog.json.gz")
	f, err := os.Create(gz)
	require.NoError(t, err)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	for _, path := range []string{plain, gz} {
		s, err := Load(path)
		require.NoError(t, err, path)
		assert.Len(t, s.Products, 2, path)
	}

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
