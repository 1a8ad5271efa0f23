// Package memory is an in-process search index used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/index"
)

// Client is an in-memory index.Client with simple substring search.
//
// The hook fields let tests inject failures: BatchErr is consulted before
// every batch call and may fail it outright; ItemErr is consulted per
// document (or ID, for deletes) and may fail that item alone.
type Client struct {
	mu   sync.RWMutex
	docs map[string]domain.SearchDocument

	BatchErr func(op string) error
	ItemErr  func(op, id string) error
}

// New creates an empty in-memory index.
func New() *Client {
	return &Client{docs: make(map[string]domain.SearchDocument)}
}

var _ index.Client = (*Client)(nil)

// UpsertBatch stores docs, replacing existing documents with the same ID.
func (c *Client) UpsertBatch(ctx context.Context, docs []domain.SearchDocument) ([]index.ItemError, error) {
	if err := c.before(ctx, "upsert"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var failed []index.ItemError
	for _, d := range docs {
		if c.ItemErr != nil {
			if err := c.ItemErr("upsert", d.ID); err != nil {
				failed = append(failed, index.ItemError{ID: d.ID, Err: err})
				continue
			}
		}
		c.docs[d.ID] = d
	}
	return failed, nil
}

// DeleteByIDs removes ids; unknown IDs are ignored.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) ([]index.ItemError, error) {
	if err := c.before(ctx, "delete"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var failed []index.ItemError
	for _, id := range ids {
		if c.ItemErr != nil {
			if err := c.ItemErr("delete", id); err != nil {
				failed = append(failed, index.ItemError{ID: id, Err: err})
				continue
			}
		}
		delete(c.docs, id)
	}
	return failed, nil
}

func (c *Client) before(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.BatchErr != nil {
		return c.BatchErr(op)
	}
	return nil
}

// ListAllIDs returns every stored ID in ascending order.
func (c *Client) ListAllIDs(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get returns a stored document.
func (c *Client) Get(id string) (domain.SearchDocument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	return d, ok
}

// Snapshot copies the whole index.
func (c *Client) Snapshot() map[string]domain.SearchDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]domain.SearchDocument, len(c.docs))
	for id, d := range c.docs {
		out[id] = d
	}
	return out
}

// Ping always succeeds.
func (c *Client) Ping(context.Context) error { return nil }

// Search matches query text against name and description and applies the
// categorical and price filters.
func (c *Client) Search(_ context.Context, query *domain.SearchQuery) (*domain.SearchResult, error) {
	start := time.Now()

	c.mu.RLock()
	matched := make([]domain.SearchDocument, 0)
	text := strings.ToLower(query.Query)
	for _, d := range c.docs {
		if matches(d, query, text) {
			matched = append(matched, d)
		}
	}
	c.mu.RUnlock()

	sortDocuments(matched, query.SortBy)

	page := max(query.Page, 1)
	perPage := query.PerPage
	if perPage < 1 {
		perPage = 20
	}
	perPage = min(perPage, 100)

	total := len(matched)
	offset := min((page-1)*perPage, total)
	end := min(offset+perPage, total)

	return &domain.SearchResult{
		Documents: matched[offset:end],
		Total:     total,
		Page:      page,
		PerPage:   perPage,
		TookMs:    time.Since(start).Milliseconds(),
	}, nil
}

func matches(d domain.SearchDocument, q *domain.SearchQuery, text string) bool {
	if text != "" &&
		!strings.Contains(strings.ToLower(d.Name), text) &&
		!strings.Contains(strings.ToLower(d.Description), text) {
		return false
	}
	for _, f := range []struct {
		want *string
		got  string
	}{
		{q.Team, d.Team},
		{q.Season, d.Season},
		{q.Type, d.Type},
		{q.Category, d.Category},
		{q.Size, d.Size},
	} {
		if f.want != nil && *f.want != "" && !strings.EqualFold(*f.want, f.got) {
			return false
		}
	}
	if q.MinPrice != nil && d.Price < *q.MinPrice {
		return false
	}
	if q.MaxPrice != nil && d.Price > *q.MaxPrice {
		return false
	}
	return true
}

func sortDocuments(docs []domain.SearchDocument, sortBy string) {
	switch sortBy {
	case domain.SortPriceAsc:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Price < docs[j].Price })
	case domain.SortPriceDesc:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Price > docs[j].Price })
	case domain.SortNewest:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].UpdatedAt.After(docs[j].UpdatedAt) })
	default:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}
}
