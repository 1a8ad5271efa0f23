package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/catalog"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
	"github.com/utafrali/catalogsync/pkg/httpclient"
	"github.com/utafrali/catalogsync/pkg/logger"
)

func newReader(t *testing.T, h http.HandlerFunc) *Reader {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = 2 * time.Second
	return NewReader(srv.URL+"/", cfg, logger.Discard())
}

func TestReader_ListPage(t *testing.T) {
	r := newReader(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/api/v1/catalog/products", req.URL.Path)
		assert.Equal(t, "B", req.URL.Query().Get("after"))
		assert.Equal(t, "2", req.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"data":{"products":[
			{"id":"C","name":"Scarf","price":2500,"active":true,"updated_at":"2025-01-02T03:04:05Z"},
			{"id":"D","name":"Cap","price":null,"active":false,"updated_at":"2025-01-02T03:04:05Z"}
		],"next_token":"D"}}`))
	})

	page, err := r.ListPage(context.Background(), "B", 2)

	require.NoError(t, err)
	require.Len(t, page.Products, 2)
	assert.Equal(t, int64(2500), *page.Products[0].Price)
	assert.Nil(t, page.Products[1].Price)
	assert.Equal(t, "D", page.NextToken)
}

func TestReader_GetByID(t *testing.T) {
	r := newReader(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/api/v1/catalog/products/A":
			_, _ = w.Write([]byte(`{"data":{"id":"A","name":"Jersey","price":100,"active":true}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"product not found"}}`))
		}
	})

	p, err := r.GetByID(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Jersey", p.Name)

	_, err = r.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, catalog.IsTransient(err))
}

func TestReader_ServerErrorIsTransient(t *testing.T) {
	r := newReader(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := r.ListPage(context.Background(), "", 10)

	require.Error(t, err)
	assert.True(t, catalog.IsTransient(err))
}

func TestReader_BadRequestIsFatal(t *testing.T) {
	r := newReader(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"INVALID_PARAMETER","message":"limit too large"}}`))
	})

	_, err := r.ListPage(context.Background(), "", 10000)

	require.Error(t, err)
	assert.False(t, catalog.IsTransient(err))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReader_UnreachableIsTransient(t *testing.T) {
	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	cfg.Timeout = time.Second
	r := NewReader("http://127.0.0.1:1", cfg, logger.Discard())

	_, err := r.ListPage(context.Background(), "", 10)

	require.Error(t, err)
	assert.True(t, catalog.IsTransient(err))
}
