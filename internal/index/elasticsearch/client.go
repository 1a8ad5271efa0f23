// Package elasticsearch implements index.Client on Elasticsearch 8.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/index"
)

// listPageSize is the search_after page size used by ListAllIDs.
const listPageSize = 1000

// Config describes how to reach the cluster.
type Config struct {
	Host           string
	Port           int
	Protocol       string
	APIKey         string
	Index          string
	ConnectTimeout time.Duration
	// Refresh makes writes visible to search before the call returns.
	Refresh bool
}

// Validate returns index.ErrNotConfigured when the connection triple is
// incomplete.
func (c Config) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Port == 0 {
		missing = append(missing, "port")
	}
	if c.Protocol == "" {
		missing = append(missing, "protocol")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing elasticsearch %s", index.ErrNotConfigured, strings.Join(missing, ", "))
	}
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("%w: unsupported protocol %q", index.ErrNotConfigured, c.Protocol)
	}
	return nil
}

// Address returns protocol://host:port.
func (c Config) Address() string {
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}

// Client is an Elasticsearch-backed index.Client.
type Client struct {
	es        *elasticsearch.Client
	indexName string
	refresh   string
	logger    *slog.Logger
}

type esErrorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

type esBulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type esBulkResponse struct {
	Errors bool                    `json:"errors"`
	Items  []map[string]esBulkItem `json:"items"`
}

type esSearchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string                `json:"_id"`
			Source domain.SearchDocument `json:"_source"`
			Sort   []any                 `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// New connects to the cluster and creates the index if it does not exist.
// Retries are left to index.Writer, so the transport does not retry.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndexName
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.Address()},
		APIKey:       cfg.APIKey,
		DisableRetry: true,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: create client: %w", err)
	}

	c := &Client{es: es, indexName: cfg.Index, refresh: "false", logger: logger}
	if cfg.Refresh {
		c.refresh = "true"
	}

	if err := c.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("elasticsearch: ensure index: %w", err)
	}
	return c, nil
}

var _ index.Client = (*Client)(nil)

// Ping checks whether the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

func (c *Client) ensureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.indexName}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index exists: %w", err)
	}
	drain(res)

	if res.StatusCode == http.StatusOK {
		c.logger.Debug("elasticsearch index already exists", slog.String("index", c.indexName))
		return nil
	}

	res, err = c.es.Indices.Create(
		c.indexName,
		c.es.Indices.Create.WithBody(strings.NewReader(buildIndexMapping())),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer drain(res)

	// A concurrent creator wins the race; that is fine.
	if res.IsError() {
		errResp := decodeError(res)
		if errResp.Error.Type == "resource_already_exists_exception" {
			return nil
		}
		return fmt.Errorf("create index: %s: %s", errResp.Error.Type, errResp.Error.Reason)
	}

	c.logger.Info("elasticsearch index created", slog.String("index", c.indexName))
	return nil
}

// UpsertBatch bulk-indexes docs with external_gte versioning, so an older
// product revision never overwrites a newer one. A version conflict means
// the index already holds a newer revision and counts as success.
//
// A delete leaves a tombstone whose version is above the one it removed, kept
// for index.gc_deletes (60s by default). Re-upserting the same revision inside
// that window conflicts and is dropped, so reactivating a product must bump
// its updated_at to be indexed again right away.
func (c *Client) UpsertBatch(ctx context.Context, docs []domain.SearchDocument) ([]index.ItemError, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		action := map[string]any{
			"index": map[string]any{
				"_index":       c.indexName,
				"_id":          docs[i].ID,
				"version":      docs[i].Version,
				"version_type": "external_gte",
			},
		}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk upsert: encode action: %w", err)
		}
		if err := enc.Encode(docs[i]); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk upsert: encode document: %w", err)
		}
	}

	return c.bulk(ctx, "upsert", &buf)
}

// DeleteByIDs bulk-deletes ids. Missing documents are not errors.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) ([]index.ItemError, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"delete": map[string]any{"_index": c.indexName, "_id": id}}); err != nil {
			return nil, fmt.Errorf("elasticsearch bulk delete: encode action: %w", err)
		}
	}

	return c.bulk(ctx, "delete", &buf)
}

func (c *Client) bulk(ctx context.Context, op string, body io.Reader) ([]index.ItemError, error) {
	res, err := c.es.Bulk(
		body,
		c.es.Bulk.WithIndex(c.indexName),
		c.es.Bulk.WithRefresh(c.refresh),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, index.Transient(fmt.Errorf("elasticsearch bulk %s: %w", op, err))
	}
	defer drain(res)

	if res.IsError() {
		return nil, statusError("bulk "+op, res)
	}

	var bulkResp esBulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return nil, fmt.Errorf("elasticsearch bulk %s: decode response: %w", op, err)
	}
	if !bulkResp.Errors {
		return nil, nil
	}

	var failed []index.ItemError
	for _, entry := range bulkResp.Items {
		for action, item := range entry {
			if itemOK(action, item) {
				continue
			}
			reason := fmt.Errorf("status %d", item.Status)
			if item.Error != nil {
				reason = fmt.Errorf("%s: %s", item.Error.Type, item.Error.Reason)
			}
			if retryableStatus(item.Status) {
				reason = index.Transient(reason)
			}
			failed = append(failed, index.ItemError{ID: item.ID, Err: reason})
		}
	}
	return failed, nil
}

// versionConflict is the only 409 an external_gte write can legitimately
// hit. Other 409s, such as a document-level lock, are real failures.
const versionConflict = "version_conflict_engine_exception"

func itemOK(action string, item esBulkItem) bool {
	switch {
	case item.Status >= 200 && item.Status < 300:
		return true
	case action == "delete" && item.Status == http.StatusNotFound:
		return true
	case action == "index" && item.Status == http.StatusConflict:
		return item.Error != nil && item.Error.Type == versionConflict
	}
	return false
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// ListAllIDs walks the whole index with search_after on the id keyword.
func (c *Client) ListAllIDs(ctx context.Context) ([]string, error) {
	var (
		ids   []string
		after []any
	)
	for {
		query := map[string]any{
			"_source": false,
			"size":    listPageSize,
			"sort":    []any{map[string]any{"id": "asc"}},
			"query":   map[string]any{"match_all": map[string]any{}},
		}
		if after != nil {
			query["search_after"] = after
		}

		resp, err := c.search(ctx, "list ids", query)
		if err != nil {
			return nil, err
		}
		for _, hit := range resp.Hits.Hits {
			ids = append(ids, hit.ID)
		}
		if len(resp.Hits.Hits) < listPageSize {
			return ids, nil
		}
		after = resp.Hits.Hits[len(resp.Hits.Hits)-1].Sort
	}
}

// Search runs a storefront query.
func (c *Client) Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error) {
	page := max(query.Page, 1)
	perPage := query.PerPage
	if perPage < 1 {
		perPage = 20
	}
	perPage = min(perPage, 100)

	resp, err := c.search(ctx, "search", buildSearchQuery(query, page, perPage))
	if err != nil {
		return nil, err
	}

	docs := make([]domain.SearchDocument, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		docs = append(docs, hit.Source)
	}

	return &domain.SearchResult{
		Documents: docs,
		Total:     resp.Hits.Total.Value,
		Page:      page,
		PerPage:   perPage,
		TookMs:    int64(resp.Took),
	}, nil
}

func (c *Client) search(ctx context.Context, op string, query map[string]any) (*esSearchResponse, error) {
	data, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch %s: marshal query: %w", op, err)
	}

	res, err := c.es.Search(
		c.es.Search.WithIndex(c.indexName),
		c.es.Search.WithBody(bytes.NewReader(data)),
		c.es.Search.WithTrackTotalHits(true),
		c.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, index.Transient(fmt.Errorf("elasticsearch %s: %w", op, err))
	}
	defer drain(res)

	if res.IsError() {
		return nil, statusError(op, res)
	}

	var out esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("elasticsearch %s: decode response: %w", op, err)
	}
	return &out, nil
}

func buildSearchQuery(query *domain.SearchQuery, page, perPage int) map[string]any {
	var must any = map[string]any{"match_all": map[string]any{}}
	if query.Query != "" {
		must = map[string]any{
			"multi_match": map[string]any{
				"query":         query.Query,
				"fields":        []string{"name^3", "name.autocomplete^2", "description", "team^2", "category"},
				"type":          "best_fields",
				"fuzziness":     "AUTO",
				"prefix_length": 1,
			},
		}
	}

	boolQuery := map[string]any{"must": []any{must}}
	if filters := buildFilters(query); len(filters) > 0 {
		boolQuery["filter"] = filters
	}

	return map[string]any{
		"query":            map[string]any{"bool": boolQuery},
		"from":             (page - 1) * perPage,
		"size":             perPage,
		"track_total_hits": true,
		"sort":             buildSort(query.SortBy),
	}
}

func buildFilters(query *domain.SearchQuery) []any {
	var filters []any
	for field, v := range map[string]*string{
		"team":     query.Team,
		"season":   query.Season,
		"type":     query.Type,
		"category": query.Category,
		"size":     query.Size,
	} {
		if v != nil && *v != "" {
			filters = append(filters, map[string]any{"term": map[string]any{field: *v}})
		}
	}

	if query.MinPrice != nil || query.MaxPrice != nil {
		rng := map[string]any{}
		if query.MinPrice != nil {
			rng["gte"] = *query.MinPrice
		}
		if query.MaxPrice != nil {
			rng["lte"] = *query.MaxPrice
		}
		filters = append(filters, map[string]any{"range": map[string]any{"price": rng}})
	}
	return filters
}

func buildSort(sortBy string) []any {
	switch sortBy {
	case domain.SortPriceAsc:
		return []any{map[string]any{"price": "asc"}}
	case domain.SortPriceDesc:
		return []any{map[string]any{"price": "desc"}}
	case domain.SortNewest:
		return []any{map[string]any{"updated_at": "desc"}}
	default:
		return []any{map[string]any{"_score": "desc"}, map[string]any{"id": "asc"}}
	}
}

func decodeError(res *esapi.Response) esErrorResponse {
	var errResp esErrorResponse
	_ = json.NewDecoder(res.Body).Decode(&errResp)
	return errResp
}

// statusError turns an error response into an error, marking throttling and
// 5xx transient.
func statusError(op string, res *esapi.Response) error {
	errResp := decodeError(res)
	err := fmt.Errorf("elasticsearch %s: status %s", op, strconv.Itoa(res.StatusCode))
	if errResp.Error.Type != "" {
		err = fmt.Errorf("elasticsearch %s: %s: %s", op, errResp.Error.Type, errResp.Error.Reason)
	}
	if retryableStatus(res.StatusCode) {
		return index.Transient(err)
	}
	return err
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

