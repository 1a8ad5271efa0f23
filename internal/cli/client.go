package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/pkg/httpclient"
)

const serviceName = "catalog-sync"

// Client talks to the sync service's admin API.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// NewClient creates an admin API client. An empty token sends no
// Authorization header.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = timeout
	cfg.MaxRetries = 2
	cfg.RetryWaitMin = 200 * time.Millisecond
	cfg.RetryWaitMax = time.Second
	cfg.BearerToken = token
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpclient.New(cfg),
	}
}

// LogList is one page of sync logs.
type LogList struct {
	Logs   []domain.SyncLog `json:"logs"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// LogQuery narrows a log listing. Zero values are not sent.
type LogQuery struct {
	Kind   string
	Status string
	Limit  int
	Offset int
}

func (q LogQuery) values() url.Values {
	v := url.Values{}
	if q.Kind != "" {
		v.Set("kind", q.Kind)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", fmt.Sprint(q.Offset))
	}
	return v
}

// TriggerFull starts a full resync.
func (c *Client) TriggerFull(ctx context.Context) (*domain.SyncLog, error) {
	return call[domain.SyncLog](ctx, c, http.MethodPost, "/api/v1/sync/full")
}

// TriggerItem starts a single-product resync.
func (c *Client) TriggerItem(ctx context.Context, productID string) (*domain.SyncLog, error) {
	return call[domain.SyncLog](ctx, c, http.MethodPost, "/api/v1/sync/items/"+url.PathEscape(productID))
}

// Status fetches the current sync health.
func (c *Client) Status(ctx context.Context) (*domain.SyncHealth, error) {
	return call[domain.SyncHealth](ctx, c, http.MethodGet, "/api/v1/sync/status")
}

// GetLog fetches one sync log.
func (c *Client) GetLog(ctx context.Context, id string) (*domain.SyncLog, error) {
	return call[domain.SyncLog](ctx, c, http.MethodGet, "/api/v1/sync/logs/"+url.PathEscape(id))
}

// ListLogs lists sync logs newest first.
func (c *Client) ListLogs(ctx context.Context, q LogQuery) (*LogList, error) {
	path := "/api/v1/sync/logs"
	if v := q.values(); len(v) > 0 {
		path += "?" + v.Encode()
	}
	return call[LogList](ctx, c, http.MethodGet, path)
}

func call[T any](ctx context.Context, c *Client, method, path string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &out.Data, nil
}

// WaitForLog polls a sync log until it leaves running.
func (c *Client) WaitForLog(ctx context.Context, id string, interval time.Duration) (*domain.SyncLog, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		log, err := c.GetLog(ctx, id)
		if err != nil {
			return nil, err
		}
		if log.Status.Finished() {
			return log, nil
		}

		select {
		case <-ctx.Done():
			return log, ctx.Err()
		case <-ticker.C:
		}
	}
}
