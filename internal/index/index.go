// Package index writes search documents to the search engine.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/utafrali/catalogsync/internal/domain"
)

var (
	// ErrTransient marks an index failure worth retrying: network errors,
	// timeouts, throttling and 5xx answers.
	ErrTransient = errors.New("index: transient error")

	// ErrNotConfigured means no usable search engine connection exists.
	ErrNotConfigured = errors.New("index: search engine not configured")
)

// ItemError is the failure of a single document inside a batch call.
type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("document %s: %v", e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Client is the search engine surface the sync engine writes through. A
// non-nil error from a batch call means the whole call failed; per-document
// failures come back as ItemErrors.
type Client interface {
	UpsertBatch(ctx context.Context, docs []domain.SearchDocument) ([]ItemError, error)
	// DeleteByIDs treats already-missing documents as deleted.
	DeleteByIDs(ctx context.Context, ids []string) ([]ItemError, error)
	ListAllIDs(ctx context.Context) ([]string, error)
	Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error)
	Ping(ctx context.Context) error
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is a retryable index error.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
