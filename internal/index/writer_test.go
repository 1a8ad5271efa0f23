package index_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/index"
	"github.com/utafrali/catalogsync/internal/index/memory"
	"github.com/utafrali/catalogsync/pkg/logger"
)

func testConfig() index.WriterConfig {
	return index.WriterConfig{
		BatchSize:   2,
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
		CallTimeout: time.Second,
	}
}

func docs(n int) []domain.SearchDocument {
	out := make([]domain.SearchDocument, n)
	for i := range out {
		out[i] = domain.SearchDocument{ID: fmt.Sprintf("p%02d", i), Name: "Jersey", Price: 100}
	}
	return out
}

func TestWriter_UpsertChunksIntoBatches(t *testing.T) {
	client := memory.New()
	var calls atomic.Int32
	client.BatchErr = func(string) error {
		calls.Add(1)
		return nil
	}
	w := index.NewWriter(client, testConfig(), logger.Discard())

	res := w.Upsert(context.Background(), docs(5))

	assert.Equal(t, 5, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 3, res.Batches)
	assert.Zero(t, res.FailedBatches)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, client.Snapshot(), 5)
}

func TestWriter_RetriesTransientBatchError(t *testing.T) {
	client := memory.New()
	var calls atomic.Int32
	client.BatchErr = func(string) error {
		if calls.Add(1) < 3 {
			return index.Transient(errors.New("503 service unavailable"))
		}
		return nil
	}
	w := index.NewWriter(client, testConfig(), logger.Discard())

	res := w.Upsert(context.Background(), docs(2))

	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWriter_ExhaustedRetriesFailTheBatch(t *testing.T) {
	client := memory.New()
	var calls atomic.Int32
	client.BatchErr = func(string) error {
		calls.Add(1)
		return index.Transient(errors.New("connection reset"))
	}
	w := index.NewWriter(client, testConfig(), logger.Discard())

	res := w.Upsert(context.Background(), docs(2))

	assert.Zero(t, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.FailedBatches)
	assert.True(t, res.AllBatchesFailed())
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, res.Errors, 2)
	assert.True(t, index.IsTransient(res.FirstError()))
}

func TestWriter_PermanentBatchErrorIsNotRetried(t *testing.T) {
	client := memory.New()
	var calls atomic.Int32
	client.BatchErr = func(string) error {
		calls.Add(1)
		return errors.New("mapper_parsing_exception")
	}
	w := index.NewWriter(client, testConfig(), logger.Discard())

	res := w.Upsert(context.Background(), docs(2))

	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWriter_RetriesOnlyTransientItems(t *testing.T) {
	client := memory.New()
	var flaky atomic.Int32
	client.ItemErr = func(op, id string) error {
		switch id {
		case "p00":
			return errors.New("document_parsing_exception")
		case "p01":
			if flaky.Add(1) == 1 {
				return index.Transient(errors.New("es_rejected_execution_exception"))
			}
		}
		return nil
	}
	w := index.NewWriter(client, index.WriterConfig{BatchSize: 10, MaxAttempts: 3, RetryBase: time.Millisecond, CallTimeout: time.Second}, logger.Discard())

	res := w.Upsert(context.Background(), docs(3))

	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.FailedBatches)
	assert.Equal(t, int32(2), flaky.Load())

	var itemErr *index.ItemError
	require.ErrorAs(t, res.FirstError(), &itemErr)
	assert.Equal(t, "p00", itemErr.ID)
}

func TestWriter_CallTimeoutIsTransient(t *testing.T) {
	client := &slowClient{Client: memory.New(), delay: 50 * time.Millisecond}
	cfg := testConfig()
	cfg.CallTimeout = 5 * time.Millisecond
	cfg.MaxAttempts = 2
	w := index.NewWriter(client, cfg, logger.Discard())

	res := w.Upsert(context.Background(), docs(1))

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestWriter_Delete(t *testing.T) {
	client := memory.New()
	w := index.NewWriter(client, testConfig(), logger.Discard())
	require.Zero(t, w.Upsert(context.Background(), docs(3)).Failed)

	res := w.Delete(context.Background(), []string{"p00", "p02", "missing"})

	assert.Equal(t, 3, res.Succeeded)
	ids, err := w.ListAllIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p01"}, ids)
}

func TestWriteResult_Merge(t *testing.T) {
	var total index.WriteResult
	total.Merge(index.WriteResult{Succeeded: 2, Batches: 1})
	total.Merge(index.WriteResult{Failed: 2, Batches: 1, FailedBatches: 1, Errors: []error{errors.New("x")}})

	assert.Equal(t, 2, total.Succeeded)
	assert.Equal(t, 2, total.Failed)
	assert.Equal(t, 2, total.Batches)
	assert.False(t, total.AllBatchesFailed())
	assert.EqualError(t, total.FirstError(), "x")
}

type slowClient struct {
	*memory.Client
	delay time.Duration
	calls atomic.Int32
}

func (c *slowClient) UpsertBatch(ctx context.Context, d []domain.SearchDocument) ([]index.ItemError, error) {
	c.calls.Add(1)
	select {
	case <-time.After(c.delay):
		return c.Client.UpsertBatch(ctx, d)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
