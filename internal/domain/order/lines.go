package order

import "github.com/xenking/kart-orders/internal/domain/product"

// Staged is the result of validating requested lines against looked-up
// products. Nothing in it has been persisted.
type Staged struct {
	Lines []Line
	// Stock maps every touched product id to its quantity after all lines.
	Stock map[string]int
	// Updates holds copies of the touched products carrying the staged
	// quantity, in the order they were first requested.
	Updates []product.Product
}

// BuildLines validates reqs in caller order against products and prices each
// line. It stops at the first failing line. Repeated product ids are checked
// against the quantity left by the earlier lines. The products slice is not
// modified.
func BuildLines(reqs []LineRequest, products []product.Product) (*Staged, error) {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	st := &Staged{
		Lines: make([]Line, 0, len(reqs)),
		Stock: make(map[string]int, len(byID)),
	}
	touched := make([]string, 0, len(byID))

	for _, r := range reqs {
		if r.Quantity < 0 {
			return nil, &Error{Kind: KindInvalidQuantity, ProductID: r.ProductID, Requested: r.Quantity}
		}

		p, ok := byID[r.ProductID]
		if !ok {
			return nil, &Error{Kind: KindProductNotFound, ProductID: r.ProductID}
		}

		available, seen := st.Stock[p.ID]
		if !seen {
			available = p.Quantity
		}
		if r.Quantity > available {
			return nil, &Error{
				Kind:        KindInsufficientStock,
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   r.Quantity,
				Available:   available,
			}
		}

		if !seen {
			touched = append(touched, p.ID)
		}
		st.Stock[p.ID] = available - r.Quantity
		st.Lines = append(st.Lines, Line{
			ProductID: p.ID,
			Quantity:  r.Quantity,
			Price:     p.Price,
		})
	}

	st.Updates = make([]product.Product, len(touched))
	for i, id := range touched {
		p := byID[id]
		p.Quantity = st.Stock[id]
		st.Updates[i] = p
	}
	return st, nil
}

// distinctIDs returns the product ids of reqs without repeats, keeping the
// first occurrence order.
func distinctIDs(reqs []LineRequest) []string {
	seen := make(map[string]struct{}, len(reqs))
	ids := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if _, ok := seen[r.ProductID]; ok {
			continue
		}
		seen[r.ProductID] = struct{}{}
		ids = append(ids, r.ProductID)
	}
	return ids
}
