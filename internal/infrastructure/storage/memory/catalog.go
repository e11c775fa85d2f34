package memory

import (
	"context"
	"slices"
	"strings"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/catalog"
)

// CatalogRepo implements catalog.ProductCatalog over products registered with PutProduct.
type CatalogRepo struct {
	s *Store
}

var _ catalog.ProductCatalog = (*CatalogRepo)(nil)

// PutProduct inserts or replaces a product. A nil id is replaced with a new one.
func (r *CatalogRepo) PutProduct(p catalog.Product) catalog.Product {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id.IsNil(p.ID) {
		p.ID = id.New()
	}
	r.s.products[p.ID] = p
	return p
}

func (r *CatalogRepo) GetProduct(_ context.Context, productID id.ID) (*catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.products[productID]
	if !ok {
		return nil, apperror.NewProductNotFound(productID)
	}
	return &p, nil
}

func (r *CatalogRepo) ListProducts(context.Context) ([]catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]catalog.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b catalog.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return out, nil
}
