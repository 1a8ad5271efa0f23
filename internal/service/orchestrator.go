// Package service runs catalog-to-index sync jobs and reports on them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/catalogsync/internal/catalog"
	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/index"
	"github.com/utafrali/catalogsync/internal/lease"
	"github.com/utafrali/catalogsync/internal/mapper"
	"github.com/utafrali/catalogsync/internal/synclog"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
	"github.com/utafrali/catalogsync/pkg/logger"
)

const tracerName = "github.com/utafrali/catalogsync/internal/service"

// shutdownGrace bounds how long Shutdown waits for cancelled jobs to
// finalize their logs.
const shutdownGrace = 5 * time.Second

// itemDrainPoll is how often a starting full sync rechecks for live item
// leases.
const itemDrainPoll = 20 * time.Millisecond

// IndexWriter is the search index surface jobs write through.
// *index.Writer implements it.
type IndexWriter interface {
	Upsert(ctx context.Context, docs []domain.SearchDocument) index.WriteResult
	Delete(ctx context.Context, ids []string) index.WriteResult
	ListAllIDs(ctx context.Context) ([]string, error)
	Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error)
	Ping(ctx context.Context) error
}

// EventPublisher announces finalized sync logs.
type EventPublisher interface {
	PublishSyncFinished(ctx context.Context, log *domain.SyncLog) error
}

// Config tunes job execution.
type Config struct {
	PageSize        int
	Workers         int
	FullLeaseTTL    time.Duration
	ItemLeaseTTL    time.Duration
	PageMaxAttempts int
	PageRetryBase   time.Duration
	// ItemDrainWait bounds how long a full sync waits for item syncs that
	// were admitted before it took its lease.
	ItemDrainWait time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:        500,
		Workers:         4,
		FullLeaseTTL:    5 * time.Minute,
		ItemLeaseTTL:    time.Minute,
		PageMaxAttempts: 4,
		PageRetryBase:   500 * time.Millisecond,
		ItemDrainWait:   2 * time.Second,
	}
}

// Orchestrator runs full and single-item sync jobs. Jobs of the same scope
// are mutually exclusive across processes through the lease store.
type Orchestrator struct {
	catalog catalog.Reader
	index   IndexWriter
	logs    synclog.Store
	leases  lease.Store
	events  EventPublisher
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	jobs       sync.WaitGroup
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// NewOrchestrator wires a job runner. idx may be nil when no search engine
// is configured, in which case every sync call fails with
// ErrServiceUnavailable. events may be nil.
func NewOrchestrator(
	reader catalog.Reader,
	idx IndexWriter,
	logs synclog.Store,
	leases lease.Store,
	events EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.PageSize < 1 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.FullLeaseTTL <= 0 {
		cfg.FullLeaseTTL = def.FullLeaseTTL
	}
	if cfg.ItemLeaseTTL <= 0 {
		cfg.ItemLeaseTTL = def.ItemLeaseTTL
	}
	if cfg.PageMaxAttempts < 1 {
		cfg.PageMaxAttempts = def.PageMaxAttempts
	}
	if cfg.PageRetryBase <= 0 {
		cfg.PageRetryBase = def.PageRetryBase
	}
	if cfg.ItemDrainWait <= 0 {
		cfg.ItemDrainWait = def.ItemDrainWait
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		catalog:    reader,
		index:      idx,
		logs:       logs,
		leases:     leases,
		events:     events,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		jobCtx:     jobCtx,
		cancelJobs: cancel,
	}
}

// Available reports whether a search index is configured.
func (o *Orchestrator) Available() bool {
	return o.index != nil
}

// RunFull reconciles the whole index with the catalog and returns the
// finalized log. It blocks until the job ends.
func (o *Orchestrator) RunFull(ctx context.Context) (*domain.SyncLog, error) {
	l, log, err := o.startFull(ctx)
	if err != nil {
		return nil, err
	}
	return o.runFull(ctx, l, log), nil
}

// TriggerFull starts a full sync in the background and returns its running
// log.
func (o *Orchestrator) TriggerFull(ctx context.Context) (*domain.SyncLog, error) {
	l, log, err := o.startFull(ctx)
	if err != nil {
		return nil, err
	}
	snapshot := *log
	o.background(ctx, func(ctx context.Context) { o.runFull(ctx, l, log) })
	return &snapshot, nil
}

// RunSingle resyncs one product and returns the finalized log.
func (o *Orchestrator) RunSingle(ctx context.Context, productID string) (*domain.SyncLog, error) {
	l, log, err := o.startSingle(ctx, productID)
	if err != nil {
		return nil, err
	}
	return o.runSingle(ctx, l, log), nil
}

// TriggerSingle starts a single-item sync in the background and returns its
// running log.
func (o *Orchestrator) TriggerSingle(ctx context.Context, productID string) (*domain.SyncLog, error) {
	l, log, err := o.startSingle(ctx, productID)
	if err != nil {
		return nil, err
	}
	snapshot := *log
	o.background(ctx, func(ctx context.Context) { o.runSingle(ctx, l, log) })
	return &snapshot, nil
}

// Search runs a storefront query against the index.
func (o *Orchestrator) Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error) {
	if o.index == nil {
		return nil, ErrServiceUnavailable
	}
	return o.index.Search(ctx, query)
}

// Wait blocks until every background job has finished.
func (o *Orchestrator) Wait() {
	o.jobs.Wait()
}

// Shutdown waits for background jobs until ctx ends, then cancels the ones
// still running and gives them a short grace period to finalize.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	o.logger.Warn("cancelling running sync jobs")
	o.cancelJobs()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
	}
	return ctx.Err()
}

// background runs fn detached from the caller's cancellation but keeping its
// values, so request-scoped logging and tracing carry over.
func (o *Orchestrator) background(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(o.jobCtx, cancel)

	o.jobs.Add(1)
	go func() {
		defer o.jobs.Done()
		defer cancel()
		defer stop()
		fn(ctx)
	}()
}

func (o *Orchestrator) newLog(kind domain.SyncKind, targetID string) *domain.SyncLog {
	return &domain.SyncLog{
		ID:        uuid.NewString(),
		Kind:      kind,
		TargetID:  targetID,
		Status:    domain.StatusRunning,
		StartedAt: o.now(),
	}
}

func (o *Orchestrator) startFull(ctx context.Context) (*lease.Lease, *domain.SyncLog, error) {
	if o.index == nil {
		return nil, nil, ErrServiceUnavailable
	}

	l, err := lease.Claim(ctx, o.leases, lease.FullSyncKey, o.cfg.FullLeaseTTL, o.logger)
	if errors.Is(err, lease.ErrHeld) {
		return nil, nil, ErrSyncAlreadyRunning
	}
	if err != nil {
		return nil, nil, fmt.Errorf("start full sync: %w", err)
	}

	if err := o.awaitItemSyncs(ctx); err != nil {
		o.release(context.WithoutCancel(ctx), l)
		return nil, nil, err
	}

	log := o.newLog(domain.SyncKindFull, "")
	if err := o.logs.Append(ctx, log); err != nil {
		o.release(context.WithoutCancel(ctx), l)
		return nil, nil, fmt.Errorf("append sync log: %w", err)
	}
	return l, log, nil
}

func (o *Orchestrator) startSingle(ctx context.Context, productID string) (*lease.Lease, *domain.SyncLog, error) {
	if o.index == nil {
		return nil, nil, ErrServiceUnavailable
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, nil, apperrors.InvalidInput("product id is required")
	}

	holder, err := o.leases.Holder(ctx, lease.FullSyncKey)
	if err != nil {
		return nil, nil, fmt.Errorf("check full sync lease: %w", err)
	}
	if holder != "" {
		return nil, nil, ErrFullSyncInProgress
	}

	l, err := lease.Claim(ctx, o.leases, lease.ItemKey(productID), o.cfg.ItemLeaseTTL, o.logger)
	if errors.Is(err, lease.ErrHeld) {
		return nil, nil, ErrItemSyncInProgress
	}
	if err != nil {
		return nil, nil, fmt.Errorf("start item sync: %w", err)
	}

	// A full sync may have claimed its lease between the check above and
	// our claim. It waits for item leases, so one of the two backs out.
	holder, err = o.leases.Holder(ctx, lease.FullSyncKey)
	if err != nil || holder != "" {
		o.release(context.WithoutCancel(ctx), l)
		if err != nil {
			return nil, nil, fmt.Errorf("check full sync lease: %w", err)
		}
		return nil, nil, ErrFullSyncInProgress
	}

	log := o.newLog(domain.SyncKindSingle, productID)
	if err := o.logs.Append(ctx, log); err != nil {
		o.release(context.WithoutCancel(ctx), l)
		return nil, nil, fmt.Errorf("append sync log: %w", err)
	}
	return l, log, nil
}

func (o *Orchestrator) runFull(ctx context.Context, l *lease.Lease, log *domain.SyncLog) *domain.SyncLog {
	start := time.Now()
	fullSyncRunning.Inc()
	defer fullSyncRunning.Dec()

	ctx = logger.WithSyncID(ctx, log.ID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sync.full",
		trace.WithAttributes(attribute.String("sync.id", log.ID)))
	defer span.End()

	jl := logger.WithContext(ctx, o.logger)
	jl.InfoContext(ctx, "full sync started", slog.String("kind", string(log.Kind)))

	var res *outcome
	if err := underLease(ctx, l, func(ctx context.Context) { res = o.fullPass(ctx, jl) }); err != nil {
		res.fatalErr = err
	}

	done := context.WithoutCancel(ctx)
	o.finish(done, span, jl, log, res, start)
	o.release(done, l)
	return log
}

func (o *Orchestrator) runSingle(ctx context.Context, l *lease.Lease, log *domain.SyncLog) *domain.SyncLog {
	start := time.Now()

	ctx = logger.WithSyncID(ctx, log.ID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sync.single",
		trace.WithAttributes(
			attribute.String("sync.id", log.ID),
			attribute.String("sync.target_id", log.TargetID),
		))
	defer span.End()

	jl := logger.WithContext(ctx, o.logger).With(slog.String("product_id", log.TargetID))
	jl.DebugContext(ctx, "item sync started")

	res := &outcome{single: true}
	if err := underLease(ctx, l, func(ctx context.Context) { o.syncItem(ctx, jl, log.TargetID, res) }); err != nil {
		res.fatalErr = err
	}

	done := context.WithoutCancel(ctx)
	o.finish(done, span, jl, log, res, start)
	o.release(done, l)
	return log
}

// underLease runs fn while heartbeating l. If the lease is lost, fn's context
// is cancelled and the loss is returned.
func underLease(ctx context.Context, l *lease.Lease, fn func(context.Context)) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := l.Heartbeat(ctx, cancel)
	fn(ctx)
	stop()

	if cause := context.Cause(ctx); errors.Is(cause, lease.ErrLost) {
		return cause
	}
	return nil
}

// awaitItemSyncs waits up to ItemDrainWait for live item leases to go away.
func (o *Orchestrator) awaitItemSyncs(ctx context.Context) error {
	deadline := time.Now().Add(o.cfg.ItemDrainWait)
	ticker := time.NewTicker(itemDrainPoll)
	defer ticker.Stop()

	for {
		n, err := o.leases.Count(ctx, lease.ItemKeyPrefix)
		if err != nil {
			return fmt.Errorf("count item sync leases: %w", err)
		}
		if n == 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			o.logger.InfoContext(ctx, "full sync rejected, item syncs still running", slog.Int("item_syncs", n))
			return ErrItemSyncsRunning
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// fullPass streams the catalog into the index and then removes orphans.
// Orphan removal only runs after every upsert has finished and only when the
// scan completed, since a partial scan cannot tell orphans apart.
func (o *Orchestrator) fullPass(ctx context.Context, jl *slog.Logger) *outcome {
	var (
		res    = &outcome{}
		mu     sync.Mutex
		g      errgroup.Group
		active = make(map[string]struct{})
		token  string
	)
	g.SetLimit(o.cfg.Workers)

	var scanErr error
	for {
		page, err := o.listPage(ctx, jl, token)
		if err != nil {
			scanErr = err
			break
		}

		docs := make([]domain.SearchDocument, 0, len(page.Products))
		for _, p := range page.Products {
			if !p.Active {
				continue
			}
			active[strings.TrimSpace(p.ID)] = struct{}{}

			doc, err := mapper.Map(p)
			if err != nil {
				jl.WarnContext(ctx, "product not indexable",
					slog.String("product_id", p.ID),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				res.itemFailed(err)
				mu.Unlock()
				continue
			}
			docs = append(docs, doc)
		}

		if len(docs) > 0 {
			g.Go(func() error {
				wr := o.index.Upsert(ctx, docs)
				mu.Lock()
				res.addUpsert(wr)
				mu.Unlock()
				return nil
			})
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	_ = g.Wait()

	if scanErr != nil {
		res.fatalErr = fmt.Errorf("scan catalog: %w", scanErr)
		return res
	}
	if err := context.Cause(ctx); err != nil {
		res.fatalErr = err
		return res
	}

	o.removeOrphans(ctx, jl, active, res)
	return res
}

func (o *Orchestrator) removeOrphans(ctx context.Context, jl *slog.Logger, active map[string]struct{}, res *outcome) {
	indexed, err := retry(ctx, o, jl, "list indexed ids", isTransientIndexErr, o.index.ListAllIDs)
	if err != nil {
		jl.WarnContext(ctx, "orphan removal skipped", slog.String("error", err.Error()))
		res.degraded = true
		res.recordErr(fmt.Errorf("list indexed ids: %w", err))
		return
	}

	var orphans []string
	for _, id := range indexed {
		if _, ok := active[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return
	}

	res.addDelete(o.index.Delete(ctx, orphans))
	jl.InfoContext(ctx, "orphans removed",
		slog.Int("orphans", len(orphans)),
		slog.Int("deleted", res.deleted),
	)
}

func (o *Orchestrator) syncItem(ctx context.Context, jl *slog.Logger, productID string, res *outcome) {
	p, err := retry(ctx, o, jl, "get product", catalog.IsTransient, func(ctx context.Context) (*domain.CatalogProduct, error) {
		return o.catalog.GetByID(ctx, productID)
	})
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		jl.InfoContext(ctx, "product gone from catalog, removing document")
		res.addDelete(o.index.Delete(ctx, []string{productID}))
		return
	case err != nil:
		res.fatalErr = fmt.Errorf("fetch product %s: %w", productID, err)
		return
	case !p.Active:
		jl.InfoContext(ctx, "product inactive, removing document")
		res.addDelete(o.index.Delete(ctx, []string{productID}))
		return
	}

	doc, err := mapper.Map(*p)
	if err != nil {
		jl.WarnContext(ctx, "product not indexable", slog.String("error", err.Error()))
		res.itemFailed(err)
		return
	}
	res.addUpsert(o.index.Upsert(ctx, []domain.SearchDocument{doc}))
}

func (o *Orchestrator) listPage(ctx context.Context, jl *slog.Logger, token string) (*catalog.Page, error) {
	return retry(ctx, o, jl, "list catalog page", catalog.IsTransient, func(ctx context.Context) (*catalog.Page, error) {
		return o.catalog.ListPage(ctx, token, o.cfg.PageSize)
	})
}

func isTransientIndexErr(err error) bool {
	return index.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// retry calls fn with exponential backoff while it fails with a transient
// error, up to PageMaxAttempts calls.
func retry[T any](
	ctx context.Context,
	o *Orchestrator,
	jl *slog.Logger,
	op string,
	transient func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.PageRetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 20 * o.cfg.PageRetryBase

	return backoff.Retry(ctx,
		func() (T, error) {
			v, err := fn(ctx)
			if err != nil && !transient(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.cfg.PageMaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			jl.WarnContext(ctx, "transient failure, retrying",
				slog.String("op", op),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, jl *slog.Logger, log *domain.SyncLog, res *outcome, start time.Time) {
	finishedAt := o.now()
	log.Status = res.status()
	log.FinishedAt = &finishedAt
	log.ItemsProcessed = res.processed()
	log.ItemsFailed = res.failed
	log.ItemsDeleted = res.deleted
	if err := res.firstError(); err != nil {
		msg := err.Error()
		log.FirstError = &msg
	}

	if err := o.logs.Update(ctx, log); err != nil {
		jl.ErrorContext(ctx, "failed to finalize sync log", slog.String("error", err.Error()))
	}

	kind := string(log.Kind)
	jobsTotal.WithLabelValues(kind, string(log.Status)).Inc()
	jobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	itemsTotal.WithLabelValues(kind, "indexed").Add(float64(log.ItemsProcessed))
	itemsTotal.WithLabelValues(kind, "failed").Add(float64(log.ItemsFailed))
	itemsTotal.WithLabelValues(kind, "deleted").Add(float64(log.ItemsDeleted))

	span.SetAttributes(
		attribute.String("sync.status", string(log.Status)),
		attribute.Int("sync.items_processed", log.ItemsProcessed),
		attribute.Int("sync.items_failed", log.ItemsFailed),
		attribute.Int("sync.items_deleted", log.ItemsDeleted),
	)

	attrs := []any{
		slog.String("kind", kind),
		slog.String("status", string(log.Status)),
		slog.Int("items_processed", log.ItemsProcessed),
		slog.Int("items_failed", log.ItemsFailed),
		slog.Int("items_deleted", log.ItemsDeleted),
		slog.Duration("duration", time.Since(start)),
	}
	if log.FirstError != nil {
		attrs = append(attrs, slog.String("first_error", *log.FirstError))
	}
	switch log.Status {
	case domain.StatusSuccess:
		jl.InfoContext(ctx, "sync finished", attrs...)
	case domain.StatusPartial:
		jl.WarnContext(ctx, "sync finished with item failures", attrs...)
	default:
		span.SetStatus(codes.Error, "sync failed")
		jl.ErrorContext(ctx, "sync failed", attrs...)
	}

	if o.events != nil {
		if err := o.events.PublishSyncFinished(ctx, log); err != nil {
			jl.WarnContext(ctx, "failed to publish sync.finished event", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) release(ctx context.Context, l *lease.Lease) {
	if err := l.Release(ctx); err != nil {
		o.logger.WarnContext(ctx, "lease release failed, waiting for expiry",
			slog.String("key", l.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// outcome accumulates a job's counters.
type outcome struct {
	single   bool
	upserts  index.WriteResult
	failed   int
	deleted  int
	firstErr error
	fatalErr error
	// degraded marks a job that finished its upserts but could not complete
	// orphan removal.
	degraded bool
}

func (r *outcome) recordErr(err error) {
	if r.firstErr == nil && err != nil {
		r.firstErr = err
	}
}

func (r *outcome) itemFailed(err error) {
	r.failed++
	r.recordErr(err)
}

func (r *outcome) addUpsert(wr index.WriteResult) {
	r.upserts.Merge(wr)
	r.failed += wr.Failed
	r.recordErr(wr.FirstError())
}

func (r *outcome) addDelete(wr index.WriteResult) {
	r.deleted += wr.Succeeded
	r.failed += wr.Failed
	r.recordErr(wr.FirstError())
}

func (r *outcome) processed() int {
	return r.upserts.Succeeded
}

func (r *outcome) firstError() error {
	if r.fatalErr != nil {
		return r.fatalErr
	}
	return r.firstErr
}

func (r *outcome) status() domain.SyncStatus {
	switch {
	case r.fatalErr != nil:
		return domain.StatusFailed
	case r.single && r.failed > 0:
		return domain.StatusFailed
	case r.upserts.AllBatchesFailed():
		return domain.StatusFailed
	case r.failed == 0 && !r.degraded:
		return domain.StatusSuccess
	default:
		return domain.StatusPartial
	}
}
