// Package catalog reads products from the canonical product catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/utafrali/catalogsync/internal/domain"
)

// ErrTransient marks a read failure worth retrying: connection errors,
// timeouts and 5xx answers from a remote catalog. Anything else is fatal to
// a full sync.
var ErrTransient = errors.New("catalog: transient error")

// Page is one keyset page of products ordered by ID. An empty NextToken
// ends the scan.
type Page struct {
	Products  []domain.CatalogProduct
	NextToken string
}

// Reader is the read-only view of the catalog the sync engine depends on.
type Reader interface {
	// GetByID returns apperrors.ErrNotFound when the product does not exist.
	GetByID(ctx context.Context, id string) (*domain.CatalogProduct, error)

	// ListPage returns up to limit products with an ID greater than
	// pageToken. An empty pageToken starts from the beginning.
	ListPage(ctx context.Context, pageToken string, limit int) (*Page, error)
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// IsTransient reports whether err is a retryable catalog error.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
