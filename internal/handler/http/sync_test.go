package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogmem "github.com/utafrali/catalogsync/internal/catalog/memory"
	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/index"
	indexmem "github.com/utafrali/catalogsync/internal/index/memory"
	"github.com/utafrali/catalogsync/internal/lease"
	leasemem "github.com/utafrali/catalogsync/internal/lease/memory"
	"github.com/utafrali/catalogsync/internal/service"
	synclogmem "github.com/utafrali/catalogsync/internal/synclog/memory"
	"github.com/utafrali/catalogsync/pkg/health"
	"github.com/utafrali/catalogsync/pkg/logger"
)

const testToken = "s3cret"

type response struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testEnv struct {
	router       http.Handler
	orchestrator *service.Orchestrator
	leases       *leasemem.Store
	logs         *synclogmem.Store
}

func price(v int64) *int64 { return &v }

func testProducts() []domain.CatalogProduct {
	updated := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	return []domain.CatalogProduct{
		{ID: "p-1", Name: "Home Jersey", Team: "Besiktas", Season: "2024-25", Type: "jersey", Size: "M", Price: price(120000), Active: true, UpdatedAt: updated},
		{ID: "p-2", Name: "Away Jersey", Team: "Besiktas", Season: "2024-25", Type: "jersey", Size: "L", Price: price(110000), Active: true, UpdatedAt: updated},
		{ID: "p-3", Name: "Winter Scarf", Team: "Trabzonspor", Type: "scarf", Price: price(25000), Active: true, UpdatedAt: updated},
	}
}

func newTestEnv(t *testing.T, withIndex bool) *testEnv {
	t.Helper()
	l := logger.Discard()
	leases := leasemem.New()
	logs := synclogmem.New()

	var writer service.IndexWriter
	if withIndex {
		writer = index.NewWriter(indexmem.New(), index.WriterConfig{RetryBase: time.Millisecond}, l)
	}

	orch := service.NewOrchestrator(catalogmem.New(testProducts()...), writer, logs, leases, nil, service.Config{
		PageSize:      2,
		PageRetryBase: time.Millisecond,
		ItemDrainWait: 20 * time.Millisecond,
	}, l)
	reporter := service.NewStatusReporter(leases, logs, time.Hour)

	return &testEnv{
		router:       NewRouter(orch, reporter, health.NewHandler(), RouterConfig{AdminToken: testToken}, l),
		orchestrator: orch,
		leases:       leases,
		logs:         logs,
	}
}

func (e *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w, resp
}

func TestTriggerFull_Accepted(t *testing.T) {
	env := newTestEnv(t, true)

	w, resp := env.do(t, http.MethodPost, "/api/v1/sync/full")

	require.Equal(t, http.StatusAccepted, w.Code)
	var log domain.SyncLog
	require.NoError(t, json.Unmarshal(resp.Data, &log))
	assert.Equal(t, domain.StatusRunning, log.Status)
	assert.Equal(t, domain.SyncKindFull, log.Kind)
	assert.NotEmpty(t, log.ID)

	env.orchestrator.Wait()

	w, resp = env.do(t, http.MethodGet, "/api/v1/sync/logs/"+log.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var done domain.SyncLog
	require.NoError(t, json.Unmarshal(resp.Data, &done))
	assert.Equal(t, domain.StatusSuccess, done.Status)
	assert.Equal(t, 3, done.ItemsProcessed)
	assert.NotNil(t, done.FinishedAt)
}

func TestTriggerFull_Rejections(t *testing.T) {
	tests := map[string]struct {
		withIndex  bool
		holdLease  string
		wantStatus int
		wantCode   string
	}{
		"already running":    {withIndex: true, holdLease: lease.FullSyncKey, wantStatus: http.StatusConflict, wantCode: "SYNC_ALREADY_RUNNING"},
		"item syncs running": {withIndex: true, holdLease: lease.ItemKey("p-1"), wantStatus: http.StatusConflict, wantCode: "ITEM_SYNCS_RUNNING"},
		"no index":           {withIndex: false, wantStatus: http.StatusServiceUnavailable, wantCode: "SERVICE_UNAVAILABLE"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, tt.withIndex)
			if tt.holdLease != "" {
				env.leases.Steal(tt.holdLease, "other", time.Minute)
			}

			w, resp := env.do(t, http.MethodPost, "/api/v1/sync/full")

			assert.Equal(t, tt.wantStatus, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestTriggerItem(t *testing.T) {
	env := newTestEnv(t, true)

	w, resp := env.do(t, http.MethodPost, "/api/v1/sync/items/p-2")

	require.Equal(t, http.StatusAccepted, w.Code)
	var log domain.SyncLog
	require.NoError(t, json.Unmarshal(resp.Data, &log))
	assert.Equal(t, domain.SyncKindSingle, log.Kind)
	assert.Equal(t, "p-2", log.TargetID)
	env.orchestrator.Wait()
}

func TestTriggerItem_Conflicts(t *testing.T) {
	tests := map[string]struct {
		key      string
		wantCode string
	}{
		"full sync holds lease": {key: lease.FullSyncKey, wantCode: "FULL_SYNC_IN_PROGRESS"},
		"item already syncing":  {key: lease.ItemKey("p-1"), wantCode: "ITEM_SYNC_IN_PROGRESS"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, true)
			env.leases.Steal(tt.key, "other", time.Minute)

			w, resp := env.do(t, http.MethodPost, "/api/v1/sync/items/p-1")

			assert.Equal(t, http.StatusConflict, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestSyncRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/full", http.NoBody)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	_, total, err := env.logs.List(context.Background(), domain.SyncLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, true)
	_, err := env.orchestrator.RunFull(context.Background())
	require.NoError(t, err)

	w, resp := env.do(t, http.MethodGet, "/api/v1/sync/status")

	require.Equal(t, http.StatusOK, w.Code)
	var status domain.SyncHealth
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.False(t, status.Running)
	require.NotNil(t, status.LastFullSync)
	assert.Equal(t, domain.StatusSuccess, status.LastFullSync.Status)
	assert.Equal(t, 3, status.LastFullSync.ItemsProcessed)
	assert.Equal(t, 0, status.RecentFailures)
}

func TestStatus_EmptyHistory(t *testing.T) {
	env := newTestEnv(t, true)

	w, resp := env.do(t, http.MethodGet, "/api/v1/sync/status")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":false,"last_full_sync":null,"recent_failures":0,"recent_failure_logs":[]}`, string(resp.Data))
}

func TestListLogs(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	_, err := env.orchestrator.RunFull(ctx)
	require.NoError(t, err)
	_, err = env.orchestrator.RunSingle(ctx, "p-1")
	require.NoError(t, err)
	_, err = env.orchestrator.RunSingle(ctx, "p-3")
	require.NoError(t, err)

	w, resp := env.do(t, http.MethodGet, "/api/v1/sync/logs?kind=single&status=success&limit=1")

	require.Equal(t, http.StatusOK, w.Code)
	var list LogListResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.Limit)
	assert.Equal(t, 0, list.Offset)
	require.Len(t, list.Logs, 1)
	assert.Equal(t, domain.SyncKindSingle, list.Logs[0].Kind)
}

func TestListLogs_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, true)

	w, resp := env.do(t, http.MethodGet, "/api/v1/sync/logs")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"logs":[],"total":0,"limit":50,"offset":0}`, string(resp.Data))
}

func TestListLogs_BadParameters(t *testing.T) {
	tests := map[string]string{
		"zero limit":      "/api/v1/sync/logs?limit=0",
		"limit too large": "/api/v1/sync/logs?limit=500",
		"negative offset": "/api/v1/sync/logs?offset=-1",
		"unknown kind":    "/api/v1/sync/logs?kind=partial",
		"unknown status":  "/api/v1/sync/logs?status=success,done",
	}

	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, true)

			w, resp := env.do(t, http.MethodGet, path)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
		})
	}
}

func TestGetLog_NotFound(t *testing.T) {
	env := newTestEnv(t, true)

	w, resp := env.do(t, http.MethodGet, "/api/v1/sync/logs/6f1c2b9e-0d8a-4a51-9a4c-4f6b1e2d3c4a")

	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestGetLog_MalformedID(t *testing.T) {
	env := newTestEnv(t, true)

	w, resp := env.do(t, http.MethodGet, "/api/v1/sync/logs/missing")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
}

func TestHealthLive(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/health/live", http.NoBody)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
