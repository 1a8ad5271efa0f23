package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/pkg/httpclient"
)

const tracerName = "github.com/utafrali/catalogsync/internal/index"

// maxRecordedErrors bounds WriteResult.Errors for very large failing runs.
const maxRecordedErrors = 100

// WriterConfig controls batching and retries.
type WriterConfig struct {
	BatchSize   int
	MaxAttempts int
	RetryBase   time.Duration
	CallTimeout time.Duration
}

// DefaultWriterConfig returns the production defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:   200,
		MaxAttempts: 4,
		RetryBase:   200 * time.Millisecond,
		CallTimeout: 10 * time.Second,
	}
}

// WriteResult tallies one Upsert or Delete call.
type WriteResult struct {
	Succeeded     int
	Failed        int
	Batches       int
	FailedBatches int
	Errors        []error
}

// Merge adds other's counts into r.
func (r *WriteResult) Merge(other WriteResult) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Batches += other.Batches
	r.FailedBatches += other.FailedBatches
	for _, err := range other.Errors {
		r.addError(err)
	}
}

func (r *WriteResult) addError(err error) {
	if len(r.Errors) < maxRecordedErrors {
		r.Errors = append(r.Errors, err)
	}
}

// FirstError returns the first recorded failure, or nil.
func (r *WriteResult) FirstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// AllBatchesFailed reports whether at least one batch ran and none of them
// wrote anything.
func (r *WriteResult) AllBatchesFailed() bool {
	return r.Batches > 0 && r.FailedBatches == r.Batches
}

// Writer chunks documents into batches and pushes each through a circuit
// breaker with exponential-backoff retries. It is safe for concurrent use.
type Writer struct {
	client  Client
	cfg     WriterConfig
	breaker *gobreaker.CircuitBreaker[[]ItemError]
	logger  *slog.Logger
}

// NewWriter wraps client. Zero fields in cfg fall back to the defaults.
func NewWriter(client Client, cfg WriterConfig, logger *slog.Logger) *Writer {
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	cbCfg := httpclient.DefaultCircuitBreakerConfig("search-index")
	cbCfg.Timeout = 10 * time.Second

	return &Writer{
		client:  client,
		cfg:     cfg,
		breaker: httpclient.NewBreaker[[]ItemError](cbCfg, logger, breakerSuccess),
		logger:  logger,
	}
}

// breakerSuccess counts only transient failures against the breaker, so a
// batch rejected for bad data does not open it.
func breakerSuccess(err error) bool {
	return err == nil || !isRetryable(err)
}

func isRetryable(err error) bool {
	return IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Upsert writes docs in batches of BatchSize.
func (w *Writer) Upsert(ctx context.Context, docs []domain.SearchDocument) WriteResult {
	return run(ctx, w, "upsert", docs, func(d domain.SearchDocument) string { return d.ID }, w.client.UpsertBatch)
}

// Delete removes ids in batches of BatchSize. Missing documents count as
// deleted.
func (w *Writer) Delete(ctx context.Context, ids []string) WriteResult {
	return run(ctx, w, "delete", ids, func(id string) string { return id }, w.client.DeleteByIDs)
}

// ListAllIDs returns every document ID currently in the index.
func (w *Writer) ListAllIDs(ctx context.Context) ([]string, error) {
	return w.client.ListAllIDs(ctx)
}

// Search passes a storefront query through to the engine.
func (w *Writer) Search(ctx context.Context, query *domain.SearchQuery) (*domain.SearchResult, error) {
	return w.client.Search(ctx, query)
}

// Ping checks engine reachability.
func (w *Writer) Ping(ctx context.Context) error {
	return w.client.Ping(ctx)
}

func (w *Writer) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 30 * w.cfg.RetryBase
	return b
}

// errRetryItems asks backoff to try again with only the transiently failed
// items of the previous attempt.
var errRetryItems = errors.New("retrying transiently failed items")

func run[T any](
	ctx context.Context,
	w *Writer,
	op string,
	items []T,
	idOf func(T) string,
	call func(context.Context, []T) ([]ItemError, error),
) WriteResult {
	var res WriteResult
	for start := 0; start < len(items); start += w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(items))
		res.Merge(runBatch(ctx, w, op, items[start:end], idOf, call))
	}
	return res
}

func runBatch[T any](
	ctx context.Context,
	w *Writer,
	op string,
	batch []T,
	idOf func(T) string,
	call func(context.Context, []T) ([]ItemError, error),
) WriteResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "index."+op+"_batch")
	span.SetAttributes(attribute.Int("index.batch_size", len(batch)))
	defer span.End()

	res := WriteResult{Batches: 1}
	pending := batch
	attempt := 0

	attemptOnce := func() (struct{}, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
		itemErrs, err := w.breaker.Execute(func() ([]ItemError, error) {
			return call(callCtx, pending)
		})
		cancel()

		if err != nil {
			if isRetryable(err) {
				batchAttempts.WithLabelValues(op, "retry").Inc()
				return struct{}{}, err
			}
			batchAttempts.WithLabelValues(op, "failed").Inc()
			return struct{}{}, backoff.Permanent(err)
		}

		failedIDs := make(map[string]error, len(itemErrs))
		for _, ie := range itemErrs {
			failedIDs[ie.ID] = ie.Err
		}

		var retry []T
		for _, item := range pending {
			id := idOf(item)
			itemErr, failed := failedIDs[id]
			switch {
			case !failed:
				res.Succeeded++
			case isRetryable(itemErr) && attempt < w.cfg.MaxAttempts:
				retry = append(retry, item)
			default:
				res.Failed++
				res.addError(&ItemError{ID: id, Err: itemErr})
			}
		}

		if len(retry) > 0 {
			batchAttempts.WithLabelValues(op, "partial").Inc()
			pending = retry
			return struct{}{}, errRetryItems
		}
		batchAttempts.WithLabelValues(op, "ok").Inc()
		pending = nil
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, attemptOnce,
		backoff.WithBackOff(w.backOff()),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			w.logger.DebugContext(ctx, "retrying index batch",
				slog.String("op", op),
				slog.Int("pending", len(pending)),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}),
	)

	if err != nil && len(pending) > 0 {
		cause := err
		if errors.Is(err, errRetryItems) {
			cause = fmt.Errorf("%w: retries exhausted", ErrTransient)
		}
		for _, item := range pending {
			res.Failed++
			res.addError(&ItemError{ID: idOf(item), Err: cause})
		}
		w.logger.WarnContext(ctx, "index batch abandoned",
			slog.String("op", op),
			slog.Int("attempts", attempt),
			slog.Int("failed", len(pending)),
			slog.String("error", cause.Error()),
		)
	}

	if res.Succeeded == 0 && res.Failed > 0 {
		res.FailedBatches = 1
		span.SetStatus(codes.Error, "batch failed")
	}
	span.SetAttributes(
		attribute.Int("index.succeeded", res.Succeeded),
		attribute.Int("index.failed", res.Failed),
		attribute.Int("index.attempts", attempt),
	)
	return res
}
