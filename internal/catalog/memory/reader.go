// Package memory is an in-process catalog used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/utafrali/catalogsync/internal/catalog"
	"github.com/utafrali/catalogsync/internal/domain"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

// Catalog is a mutable in-memory catalog.Reader. ListPageErr, when set, is
// consulted before every page read so tests can inject failures.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.CatalogProduct

	ListPageErr func(pageToken string) error
}

// New returns a catalog seeded with products.
func New(products ...domain.CatalogProduct) *Catalog {
	c := &Catalog{products: make(map[string]domain.CatalogProduct, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

var _ catalog.Reader = (*Catalog)(nil)

// Put inserts or replaces a product.
func (c *Catalog) Put(p domain.CatalogProduct) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// Remove deletes a product.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

// GetByID retrieves a product by its ID.
func (c *Catalog) GetByID(_ context.Context, id string) (*domain.CatalogProduct, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &p, nil
}

// ListPage returns products with an ID greater than pageToken in ID order.
func (c *Catalog) ListPage(_ context.Context, pageToken string, limit int) (*catalog.Page, error) {
	if c.ListPageErr != nil {
		if err := c.ListPageErr(pageToken); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.products))
	for id := range c.products {
		if id > pageToken {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	page := &catalog.Page{}
	for _, id := range ids {
		if len(page.Products) == limit {
			page.NextToken = page.Products[len(page.Products)-1].ID
			break
		}
		page.Products = append(page.Products, c.products[id])
	}
	return page, nil
}
