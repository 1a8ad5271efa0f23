// Package synclogtest holds behaviour tests every synclog.Store must pass.
package synclogtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/synclog"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

var base = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func running(id string, kind domain.SyncKind, startedAt time.Time) *domain.SyncLog {
	l := &domain.SyncLog{ID: id, Kind: kind, Status: domain.StatusRunning, StartedAt: startedAt}
	if kind == domain.SyncKindSingle {
		l.TargetID = "prod-" + id
	}
	return l
}

func finish(l *domain.SyncLog, status domain.SyncStatus, processed, failed int, firstErr string) *domain.SyncLog {
	at := l.StartedAt.Add(time.Minute)
	l.Status = status
	l.FinishedAt = &at
	l.ItemsProcessed = processed
	l.ItemsFailed = failed
	if firstErr != "" {
		l.FirstError = &firstErr
	}
	return l
}

// Run exercises newStore with the shared behaviour suite. newStore must
// return an empty store each call.
func Run(t *testing.T, newStore func(t *testing.T) synclog.Store) {
	t.Run("append and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		l := running("log-1", domain.SyncKindSingle, base)
		require.NoError(t, s.Append(ctx, l))

		got, err := s.Get(ctx, "log-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, got.Status)
		assert.Equal(t, "prod-log-1", got.TargetID)
		assert.True(t, got.StartedAt.Equal(base))
		assert.Nil(t, got.FinishedAt)
		assert.Nil(t, got.FirstError)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("append rejects invalid", func(t *testing.T) {
		s := newStore(t)
		err := s.Append(context.Background(), &domain.SyncLog{ID: "x", Kind: "weekly", Status: domain.StatusRunning, StartedAt: base})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("update finishes a running log", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		l := running("log-1", domain.SyncKindFull, base)
		require.NoError(t, s.Append(ctx, l))

		finish(l, domain.StatusPartial, 9, 1, "product B: price is required")
		l.ItemsDeleted = 2
		require.NoError(t, s.Update(ctx, l))

		got, err := s.Get(ctx, "log-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPartial, got.Status)
		assert.Equal(t, 9, got.ItemsProcessed)
		assert.Equal(t, 1, got.ItemsFailed)
		assert.Equal(t, 2, got.ItemsDeleted)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(base.Add(time.Minute)))
		require.NotNil(t, got.FirstError)
		assert.Equal(t, "product B: price is required", *got.FirstError)
	})

	t.Run("finished log is frozen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		l := running("log-1", domain.SyncKindFull, base)
		require.NoError(t, s.Append(ctx, l))
		require.NoError(t, s.Update(ctx, finish(l, domain.StatusSuccess, 10, 0, "")))

		l.Status = domain.StatusFailed
		err := s.Update(ctx, l)
		assert.ErrorIs(t, err, apperrors.ErrConflict)

		got, err := s.Get(ctx, "log-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSuccess, got.Status)
	})

	t.Run("update missing", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), running("ghost", domain.SyncKindFull, base))
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("list order and filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		fullOK := running("a", domain.SyncKindFull, base)
		fullFailed := running("b", domain.SyncKindFull, base.Add(time.Hour))
		single := running("c", domain.SyncKindSingle, base.Add(2*time.Hour))
		tieLow := running("d1", domain.SyncKindFull, base.Add(3*time.Hour))
		tieHigh := running("d2", domain.SyncKindFull, base.Add(3*time.Hour))
		for _, l := range []*domain.SyncLog{fullOK, fullFailed, single, tieLow, tieHigh} {
			require.NoError(t, s.Append(ctx, l))
		}
		require.NoError(t, s.Update(ctx, finish(fullOK, domain.StatusSuccess, 5, 0, "")))
		require.NoError(t, s.Update(ctx, finish(fullFailed, domain.StatusFailed, 0, 0, "catalog unavailable")))
		require.NoError(t, s.Update(ctx, finish(single, domain.StatusPartial, 0, 1, "x")))

		logs, total, err := s.List(ctx, domain.SyncLogFilter{})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Equal(t, []string{"d2", "d1", "c", "b", "a"}, ids(logs))

		logs, total, err = s.List(ctx, domain.SyncLogFilter{Kind: domain.SyncKindFull, FinishedOnly: true})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, []string{"b", "a"}, ids(logs))

		logs, total, err = s.List(ctx, domain.SyncLogFilter{Statuses: []domain.SyncStatus{domain.StatusFailed, domain.StatusPartial}})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, []string{"c", "b"}, ids(logs))

		logs, _, err = s.List(ctx, domain.SyncLogFilter{Since: base.Add(90 * time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, []string{"d2", "d1", "c"}, ids(logs))

		logs, total, err = s.List(ctx, domain.SyncLogFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Equal(t, []string{"d1", "c"}, ids(logs))

		logs, total, err = s.List(ctx, domain.SyncLogFilter{Offset: 50})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, logs)
	})
}

func ids(logs []domain.SyncLog) []string {
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.ID)
	}
	return out
}
