// Package remote reads the catalog through the product service's HTTP API.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/catalogsync/internal/catalog"
	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/pkg/httpclient"
)

const serviceName = "catalog-service"

// Reader implements catalog.Reader against
//
//	GET {base}/api/v1/catalog/products?after=<token>&limit=<n>
//	GET {base}/api/v1/catalog/products/{id}
type Reader struct {
	baseURL string
	client  *httpclient.CircuitBreakerClient
}

// NewReader builds a reader whose calls go through a retrying client and a
// circuit breaker.
func NewReader(baseURL string, cfg httpclient.Config, logger *slog.Logger) *Reader {
	return &Reader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: httpclient.NewCircuitBreakerClient(
			httpclient.New(cfg),
			httpclient.DefaultCircuitBreakerConfig(serviceName),
			logger,
		),
	}
}

var _ catalog.Reader = (*Reader)(nil)

type envelope[T any] struct {
	Data T `json:"data"`
}

type pagePayload struct {
	Products  []domain.CatalogProduct `json:"products"`
	NextToken string                  `json:"next_token"`
}

// GetByID retrieves a product by its ID.
func (r *Reader) GetByID(ctx context.Context, id string) (*domain.CatalogProduct, error) {
	var out envelope[domain.CatalogProduct]
	if err := r.get(ctx, "/api/v1/catalog/products/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// ListPage fetches one keyset page.
func (r *Reader) ListPage(ctx context.Context, pageToken string, limit int) (*catalog.Page, error) {
	q := url.Values{}
	q.Set("after", pageToken)
	q.Set("limit", strconv.Itoa(limit))

	var out envelope[pagePayload]
	if err := r.get(ctx, "/api/v1/catalog/products?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &catalog.Page{Products: out.Data.Products, NextToken: out.Data.NextToken}, nil
}

func (r *Reader) get(ctx context.Context, path string, dst any) error {
	resp, err := r.client.Get(ctx, r.baseURL+path)
	if err != nil {
		return classify(path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func classify(path string, err error) error {
	var serverErr *httpclient.ServerError
	var netErr net.Error
	switch {
	case errors.As(err, &serverErr),
		errors.Is(err, httpclient.ErrCircuitOpen),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return catalog.Transient("GET "+path, err)
	}
	return fmt.Errorf("GET %s: %w", path, err)
}
