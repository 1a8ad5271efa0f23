package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/catalog"
	catalogmem "github.com/utafrali/catalogsync/internal/catalog/memory"
	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/index"
	indexmem "github.com/utafrali/catalogsync/internal/index/memory"
	"github.com/utafrali/catalogsync/internal/lease"
	leasemem "github.com/utafrali/catalogsync/internal/lease/memory"
	synclogmem "github.com/utafrali/catalogsync/internal/synclog/memory"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
	"github.com/utafrali/catalogsync/pkg/logger"
)

// --- Mock Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishSyncFinished(ctx context.Context, log *domain.SyncLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

// --- Test Helpers ---

type fixture struct {
	catalog *catalogmem.Catalog
	engine  *indexmem.Client
	leases  *leasemem.Store
	logs    *synclogmem.Store
	orch    *Orchestrator
}

func testConfig() Config {
	return Config{
		PageSize:        2,
		Workers:         2,
		FullLeaseTTL:    time.Minute,
		ItemLeaseTTL:    time.Minute,
		PageMaxAttempts: 3,
		PageRetryBase:   time.Millisecond,
		ItemDrainWait:   50 * time.Millisecond,
	}
}

func newWriter(engine index.Client) *index.Writer {
	return index.NewWriter(engine, index.WriterConfig{
		BatchSize:   2,
		MaxAttempts: 2,
		RetryBase:   time.Millisecond,
		CallTimeout: time.Second,
	}, logger.Discard())
}

func newFixture(t *testing.T, products ...domain.CatalogProduct) *fixture {
	t.Helper()
	f := &fixture{
		catalog: catalogmem.New(products...),
		engine:  indexmem.New(),
		leases:  leasemem.New(),
		logs:    synclogmem.New(),
	}
	f.orch = NewOrchestrator(f.catalog, newWriter(f.engine), f.logs, f.leases, nil, testConfig(), logger.Discard())
	return f
}

func price(v int64) *int64 { return &v }

func product(id string) domain.CatalogProduct {
	return domain.CatalogProduct{
		ID:        id,
		Name:      "Jersey " + id,
		Team:      "Fenerbahce",
		Season:    "2024-25",
		Type:      "jersey",
		Category:  "football",
		Size:      "L",
		Price:     price(99900),
		Active:    true,
		UpdatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) seedIndex(t *testing.T, ids ...string) {
	t.Helper()
	docs := make([]domain.SearchDocument, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, domain.SearchDocument{ID: id, Name: "stale " + id, Price: 1})
	}
	_, err := f.engine.UpsertBatch(context.Background(), docs)
	require.NoError(t, err)
}

func (f *fixture) indexedIDs(t *testing.T) []string {
	t.Helper()
	ids, err := f.engine.ListAllIDs(context.Background())
	require.NoError(t, err)
	return ids
}

func (f *fixture) logCount(t *testing.T) int {
	t.Helper()
	_, total, err := f.logs.List(context.Background(), domain.SyncLogFilter{Limit: 100})
	require.NoError(t, err)
	return total
}

// gatedReader blocks reads until gate is closed or the caller's context ends.
type gatedReader struct {
	catalog.Reader
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedReader(r catalog.Reader) *gatedReader {
	return &gatedReader{Reader: r, started: make(chan struct{}), gate: make(chan struct{})}
}

func (r *gatedReader) ListPage(ctx context.Context, token string, limit int) (*catalog.Page, error) {
	r.once.Do(func() { close(r.started) })
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Reader.ListPage(ctx, token, limit)
}

func (r *gatedReader) GetByID(ctx context.Context, id string) (*domain.CatalogProduct, error) {
	r.once.Do(func() { close(r.started) })
	select {
	case <-r.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Reader.GetByID(ctx, id)
}

// stallingReader runs onGet inside every GetByID call.
type stallingReader struct {
	catalog.Reader
	onGet func()
}

func (r stallingReader) GetByID(ctx context.Context, id string) (*domain.CatalogProduct, error) {
	r.onGet()
	return r.Reader.GetByID(ctx, id)
}

// acquireHookStore calls onAcquire after every successful claim.
type acquireHookStore struct {
	*leasemem.Store
	onAcquire func(key string)
}

func (s acquireHookStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.Store.Acquire(ctx, key, owner, ttl)
	if ok {
		s.onAcquire(key)
	}
	return ok, err
}

type listFailingIndex struct {
	IndexWriter
	err error
}

func (i listFailingIndex) ListAllIDs(context.Context) ([]string, error) {
	return nil, i.err
}

// --- Full Sync ---

func TestRunFull_IndexesActiveProductsOnly(t *testing.T) {
	inactive := product("c")
	inactive.Active = false
	f := newFixture(t, product("a"), product("b"), inactive, product("d"), product("e"))

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
	assert.Equal(t, 4, log.ItemsProcessed)
	assert.Equal(t, 0, log.ItemsFailed)
	assert.Equal(t, 0, log.ItemsDeleted)
	assert.Nil(t, log.FirstError)
	require.NotNil(t, log.FinishedAt)
	assert.Equal(t, []string{"a", "b", "d", "e"}, f.indexedIDs(t))

	stored, err := f.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	assert.Equal(t, domain.SyncKindFull, stored.Kind)

	holder, err := f.leases.Holder(context.Background(), lease.FullSyncKey)
	require.NoError(t, err)
	assert.Empty(t, holder, "lease must be released")
}

func TestRunFull_IsIdempotent(t *testing.T) {
	f := newFixture(t, product("a"), product("b"), product("c"))

	first, err := f.orch.RunFull(context.Background())
	require.NoError(t, err)
	before := f.engine.Snapshot()

	second, err := f.orch.RunFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, before, f.engine.Snapshot())
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ItemsProcessed, second.ItemsProcessed)
	assert.Equal(t, first.ItemsFailed, second.ItemsFailed)
	assert.Equal(t, 0, second.ItemsDeleted)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRunFull_DeletesOrphans(t *testing.T) {
	inactive := product("b")
	inactive.Active = false
	f := newFixture(t, product("a"), inactive)
	f.seedIndex(t, "a", "b", "z")

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
	assert.Equal(t, 2, log.ItemsDeleted)
	assert.Equal(t, []string{"a"}, f.indexedIDs(t))

	doc, ok := f.engine.Get("a")
	require.True(t, ok)
	assert.Equal(t, "Jersey a", doc.Name)
}

func TestRunFull_InvalidProductMakesJobPartial(t *testing.T) {
	b := product("B")
	b.Price = nil
	f := newFixture(t, product("A"), b)
	f.seedIndex(t, "B")

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, log.Status)
	assert.Equal(t, 1, log.ItemsProcessed)
	assert.Equal(t, 1, log.ItemsFailed)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, "price")

	_, ok := f.engine.Get("A")
	assert.True(t, ok)
	stale, ok := f.engine.Get("B")
	require.True(t, ok, "unmappable active product keeps its previous document")
	assert.Equal(t, "stale B", stale.Name)
}

func TestRunFull_OrphanDeleteFailureIsPartial(t *testing.T) {
	f := newFixture(t, product("a"))
	f.seedIndex(t, "x", "y")
	f.engine.ItemErr = func(op, id string) error {
		if op == "delete" && id == "x" {
			return errors.New("version_conflict_engine_exception")
		}
		return nil
	}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, log.Status)
	assert.Equal(t, 1, log.ItemsProcessed)
	assert.Equal(t, 1, log.ItemsFailed)
	assert.Equal(t, 1, log.ItemsDeleted)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, "document x")
	assert.Equal(t, []string{"a", "x"}, f.indexedIDs(t))
}

func TestRunFull_ItemWriteFailuresArePartial(t *testing.T) {
	f := newFixture(t, product("a"), product("b"), product("c"))
	f.engine.ItemErr = func(op, id string) error {
		if op == "upsert" && id == "b" {
			return errors.New("mapper_parsing_exception")
		}
		return nil
	}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, log.Status)
	assert.Equal(t, 2, log.ItemsProcessed)
	assert.Equal(t, 1, log.ItemsFailed)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, "mapper_parsing_exception")
}

func TestRunFull_AllBatchesFailedIsFailed(t *testing.T) {
	f := newFixture(t, product("a"), product("b"), product("c"))
	f.engine.BatchErr = func(op string) error {
		if op == "upsert" {
			return errors.New("index is read-only")
		}
		return nil
	}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.Equal(t, 0, log.ItemsProcessed)
	assert.Equal(t, 3, log.ItemsFailed)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, "read-only")
}

func TestRunFull_OrphanListingFailureDegradesToPartial(t *testing.T) {
	f := newFixture(t, product("a"))
	f.orch.index = listFailingIndex{IndexWriter: f.orch.index, err: errors.New("search_phase_execution_exception")}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, log.Status)
	assert.Equal(t, 1, log.ItemsProcessed)
	assert.Equal(t, 0, log.ItemsFailed)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, "list indexed ids")
}

func TestRunFull_RetriesTransientPageErrors(t *testing.T) {
	f := newFixture(t, product("a"), product("b"), product("c"))
	var calls atomic.Int32
	f.catalog.ListPageErr = func(token string) error {
		if token == "b" && calls.Add(1) <= 2 {
			return catalog.Transient("list page", errors.New("connection reset by peer"))
		}
		return nil
	}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
	assert.Equal(t, 3, log.ItemsProcessed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunFull_FatalCatalogErrorKeepsIndex(t *testing.T) {
	f := newFixture(t, product("a"), product("b"), product("c"))
	f.seedIndex(t, "z")
	f.catalog.ListPageErr = func(token string) error {
		if token == "b" {
			return errors.New("permission denied for table products")
		}
		return nil
	}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.Equal(t, 2, log.ItemsProcessed)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, "permission denied")
	assert.Equal(t, []string{"a", "b", "z"}, f.indexedIDs(t), "orphans are kept after an incomplete scan")

	holder, err := f.leases.Holder(context.Background(), lease.FullSyncKey)
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestRunFull_ExhaustedTransientRetriesFail(t *testing.T) {
	f := newFixture(t, product("a"))
	var calls atomic.Int32
	f.catalog.ListPageErr = func(string) error {
		calls.Add(1)
		return catalog.Transient("list page", errors.New("i/o timeout"))
	}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunFull_RejectedWhileLeaseHeld(t *testing.T) {
	f := newFixture(t, product("a"))
	f.leases.Steal(lease.FullSyncKey, "other-process", time.Minute)

	log, err := f.orch.RunFull(context.Background())

	assert.Nil(t, log)
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, 0, f.logCount(t), "rejected runs create no log")
	assert.Empty(t, f.indexedIDs(t))
}

func TestRunFull_ConcurrentRunsAreExclusive(t *testing.T) {
	f := newFixture(t, product("a"), product("b"))
	gated := newGatedReader(f.catalog)
	f.orch.catalog = gated

	running, err := f.orch.TriggerFull(context.Background())
	require.NoError(t, err)
	<-gated.started

	_, err = f.orch.RunFull(context.Background())
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)

	close(gated.gate)
	f.orch.Wait()

	assert.Equal(t, 1, f.logCount(t))
	done, err := f.logs.Get(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, done.Status)
}

func TestRunFull_RejectedWhileItemSyncRuns(t *testing.T) {
	f := newFixture(t, product("a"), product("b"))
	gated := newGatedReader(f.catalog)
	f.orch.catalog = gated
	ctx := context.Background()

	item, err := f.orch.TriggerSingle(ctx, "a")
	require.NoError(t, err)
	<-gated.started

	log, err := f.orch.RunFull(ctx)

	assert.Nil(t, log)
	assert.ErrorIs(t, err, ErrItemSyncsRunning)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	holder, err := f.leases.Holder(ctx, lease.FullSyncKey)
	require.NoError(t, err)
	assert.Empty(t, holder, "a rejected full sync gives its lease back")
	assert.Equal(t, 1, f.logCount(t))

	close(gated.gate)
	f.orch.Wait()

	stored, err := f.logs.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)

	log, err = f.orch.RunFull(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
}

func TestRunFull_WaitsForItemSyncToDrain(t *testing.T) {
	f := newFixture(t, product("a"), product("b"))
	f.orch.cfg.ItemDrainWait = 5 * time.Second
	gated := newGatedReader(f.catalog)
	f.orch.catalog = gated
	ctx := context.Background()

	_, err := f.orch.TriggerSingle(ctx, "a")
	require.NoError(t, err)
	<-gated.started
	time.AfterFunc(30*time.Millisecond, func() { close(gated.gate) })

	log, err := f.orch.RunFull(ctx)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
	assert.Equal(t, 2, log.ItemsProcessed)
	f.orch.Wait()
}

func TestRunFull_NoIndexConfigured(t *testing.T) {
	logs := synclogmem.New()
	orch := NewOrchestrator(catalogmem.New(product("a")), nil, logs, leasemem.New(), nil, testConfig(), logger.Discard())

	_, err := orch.RunFull(context.Background())
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)

	_, err = orch.TriggerSingle(context.Background(), "a")
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	_, total, err := logs.List(context.Background(), domain.SyncLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.False(t, orch.Available())
}

func TestRunFull_LeaseLostFailsJob(t *testing.T) {
	f := newFixture(t, product("a"), product("b"), product("c"))
	cfg := testConfig()
	cfg.FullLeaseTTL = 30 * time.Millisecond
	f.orch = NewOrchestrator(f.catalog, newWriter(f.engine), f.logs, f.leases, nil, cfg, logger.Discard())
	f.seedIndex(t, "z")

	f.catalog.ListPageErr = func(token string) error {
		if token == "b" {
			f.leases.Steal(lease.FullSyncKey, "intruder", time.Minute)
			time.Sleep(100 * time.Millisecond)
		}
		return nil
	}

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, log.Status)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, lease.ErrLost.Error())
	assert.Contains(t, f.indexedIDs(t), "z", "no orphan removal after losing the lease")

	holder, err := f.leases.Holder(context.Background(), lease.FullSyncKey)
	require.NoError(t, err)
	assert.Equal(t, "intruder", holder, "release must not drop the new owner's lease")
}

func TestTriggerFull_ReturnsRunningLog(t *testing.T) {
	f := newFixture(t, product("a"))

	log, err := f.orch.TriggerFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, log.Status)
	assert.Nil(t, log.FinishedAt)

	f.orch.Wait()

	stored, err := f.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	assert.Equal(t, 1, stored.ItemsProcessed)
}

func TestTriggerFull_SurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, product("a"), product("b"))
	ctx, cancel := context.WithCancel(context.Background())

	log, err := f.orch.TriggerFull(ctx)
	require.NoError(t, err)
	cancel()
	f.orch.Wait()

	stored, err := f.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
}

func TestShutdown_CancelsRunningJobs(t *testing.T) {
	f := newFixture(t, product("a"))
	gated := newGatedReader(f.catalog)
	f.orch.catalog = gated

	log, err := f.orch.TriggerFull(context.Background())
	require.NoError(t, err)
	<-gated.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.orch.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := f.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestShutdown_NoJobs(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.orch.Shutdown(context.Background()))
}

func TestRunFull_PublishesFinishedEvent(t *testing.T) {
	f := newFixture(t, product("a"))
	pub := new(mockPublisher)
	pub.On("PublishSyncFinished", mock.Anything, mock.MatchedBy(func(l *domain.SyncLog) bool {
		return l.Status == domain.StatusSuccess && l.ItemsProcessed == 1
	})).Return(errors.New("broker unavailable")).Once()
	f.orch.events = pub

	log, err := f.orch.RunFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status, "publish failures do not change the outcome")
	pub.AssertExpectations(t)
}

// --- Single Sync ---

func TestRunSingle_UpsertsProduct(t *testing.T) {
	f := newFixture(t, product("a"))

	log, err := f.orch.RunSingle(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
	assert.Equal(t, domain.SyncKindSingle, log.Kind)
	assert.Equal(t, "a", log.TargetID)
	assert.Equal(t, 1, log.ItemsProcessed)
	_, ok := f.engine.Get("a")
	assert.True(t, ok)

	holder, err := f.leases.Holder(context.Background(), lease.ItemKey("a"))
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestRunSingle_RemovesMissingOrInactive(t *testing.T) {
	inactive := product("b")
	inactive.Active = false

	tests := map[string]string{
		"missing from catalog": "gone",
		"inactive":             "b",
	}

	for name, id := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, product("a"), inactive)
			f.seedIndex(t, id)

			log, err := f.orch.RunSingle(context.Background(), id)

			require.NoError(t, err)
			assert.Equal(t, domain.StatusSuccess, log.Status)
			assert.Equal(t, 1, log.ItemsDeleted)
			assert.Equal(t, 0, log.ItemsProcessed)
			_, ok := f.engine.Get(id)
			assert.False(t, ok)
		})
	}
}

func TestRunSingle_MissingAndNotIndexedSucceeds(t *testing.T) {
	f := newFixture(t)

	log, err := f.orch.RunSingle(context.Background(), "never-existed")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
}

func TestRunSingle_InvalidProductFails(t *testing.T) {
	p := product("a")
	p.Name = ""
	f := newFixture(t, p)

	log, err := f.orch.RunSingle(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.Equal(t, 1, log.ItemsFailed)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, "name")
}

func TestRunSingle_WriteFailureFails(t *testing.T) {
	f := newFixture(t, product("a"))
	f.engine.BatchErr = func(string) error { return errors.New("cluster_block_exception") }

	log, err := f.orch.RunSingle(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, log.Status)
	assert.Equal(t, 1, log.ItemsFailed)
}

func TestRunSingle_Rejections(t *testing.T) {
	tests := map[string]struct {
		setup func(*fixture)
		id    string
		want  error
	}{
		"full sync running": {
			setup: func(f *fixture) { f.leases.Steal(lease.FullSyncKey, "other", time.Minute) },
			id:    "a",
			want:  ErrFullSyncInProgress,
		},
		"item already syncing": {
			setup: func(f *fixture) { f.leases.Steal(lease.ItemKey("a"), "other", time.Minute) },
			id:    "a",
			want:  ErrItemSyncInProgress,
		},
		"blank id": {
			setup: func(*fixture) {},
			id:    "  ",
			want:  apperrors.ErrInvalidInput,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, product("a"))
			tt.setup(f)

			log, err := f.orch.RunSingle(context.Background(), tt.id)

			assert.Nil(t, log)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, f.logCount(t))
		})
	}
}

func TestRunSingle_BacksOutWhenFullSyncClaimsFirst(t *testing.T) {
	f := newFixture(t, product("a"))
	f.orch.leases = acquireHookStore{
		Store: f.leases,
		onAcquire: func(key string) {
			if key == lease.ItemKey("a") {
				f.leases.Steal(lease.FullSyncKey, "other-node", time.Minute)
			}
		},
	}

	log, err := f.orch.RunSingle(context.Background(), "a")

	assert.Nil(t, log)
	assert.ErrorIs(t, err, ErrFullSyncInProgress)
	holder, err := f.leases.Holder(context.Background(), lease.ItemKey("a"))
	require.NoError(t, err)
	assert.Empty(t, holder, "item lease is released on back-out")
	assert.Equal(t, 0, f.logCount(t))
	assert.Empty(t, f.indexedIDs(t))
}

func TestRunSingle_LeaseLostFailsJob(t *testing.T) {
	f := newFixture(t, product("a"))
	cfg := testConfig()
	cfg.ItemLeaseTTL = 30 * time.Millisecond
	f.orch = NewOrchestrator(stallingReader{
		Reader: f.catalog,
		onGet: func() {
			f.leases.Steal(lease.ItemKey("a"), "intruder", time.Minute)
			time.Sleep(100 * time.Millisecond)
		},
	}, newWriter(f.engine), f.logs, f.leases, nil, cfg, logger.Discard())

	log, err := f.orch.RunSingle(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, log.Status)
	require.NotNil(t, log.FirstError)
	assert.Contains(t, *log.FirstError, lease.ErrLost.Error())

	holder, err := f.leases.Holder(context.Background(), lease.ItemKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "intruder", holder)
}

func TestRunSingle_RepairsProductSkippedByFullSync(t *testing.T) {
	b := product("B")
	b.Price = nil
	f := newFixture(t, product("A"), b)

	full, err := f.orch.RunFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, full.Status)
	require.NotNil(t, full.FirstError)
	assert.Contains(t, *full.FirstError, "price")
	assert.Equal(t, []string{"A"}, f.indexedIDs(t))

	b.Price = price(4500)
	f.catalog.Put(b)

	single, err := f.orch.RunSingle(context.Background(), "B")

	require.NoError(t, err)
	assert.Equal(t, domain.SyncKindSingle, single.Kind)
	assert.Equal(t, domain.StatusSuccess, single.Status)
	assert.Equal(t, 1, single.ItemsProcessed)
	doc, ok := f.engine.Get("B")
	require.True(t, ok)
	assert.Equal(t, int64(4500), doc.Price)
}

func TestRunSingle_OtherItemsRunConcurrently(t *testing.T) {
	f := newFixture(t, product("a"), product("b"))
	f.leases.Steal(lease.ItemKey("a"), "other", time.Minute)

	log, err := f.orch.RunSingle(context.Background(), "b")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, log.Status)
}

func TestTriggerSingle_FinishesInBackground(t *testing.T) {
	f := newFixture(t, product("a"))

	log, err := f.orch.TriggerSingle(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, log.Status)

	f.orch.Wait()

	stored, err := f.logs.Get(context.Background(), log.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, product("a"), product("b"))
	_, err := f.orch.RunFull(context.Background())
	require.NoError(t, err)

	res, err := f.orch.Search(context.Background(), &domain.SearchQuery{Query: "jersey", Page: 1, PerPage: 10})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestOutcomeStatus(t *testing.T) {
	tests := map[string]struct {
		res  outcome
		want domain.SyncStatus
	}{
		"clean":            {outcome{upserts: index.WriteResult{Succeeded: 3, Batches: 1}}, domain.StatusSuccess},
		"empty catalog":    {outcome{}, domain.StatusSuccess},
		"item failures":    {outcome{upserts: index.WriteResult{Succeeded: 2, Failed: 1, Batches: 1}, failed: 1}, domain.StatusPartial},
		"degraded":         {outcome{degraded: true}, domain.StatusPartial},
		"all batches":      {outcome{upserts: index.WriteResult{Failed: 4, Batches: 2, FailedBatches: 2}, failed: 4}, domain.StatusFailed},
		"fatal":            {outcome{fatalErr: errors.New("boom")}, domain.StatusFailed},
		"single failure":   {outcome{single: true, failed: 1}, domain.StatusFailed},
		"single delete ok": {outcome{single: true, deleted: 1}, domain.StatusSuccess},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.status())
		})
	}
}
