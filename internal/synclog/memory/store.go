// Package memory is an in-process synclog.Store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/synclog"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

// Store keeps logs in a map.
type Store struct {
	mu   sync.RWMutex
	logs map[string]domain.SyncLog
}

// New returns an empty store.
func New() *Store {
	return &Store{logs: make(map[string]domain.SyncLog)}
}

var _ synclog.Store = (*Store)(nil)

func clone(l domain.SyncLog) domain.SyncLog {
	if l.FinishedAt != nil {
		t := *l.FinishedAt
		l.FinishedAt = &t
	}
	if l.FirstError != nil {
		s := *l.FirstError
		l.FirstError = &s
	}
	return l
}

func (s *Store) Append(_ context.Context, log *domain.SyncLog) error {
	if err := synclog.Validate(log); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.logs[log.ID]; exists {
		return apperrors.Conflict("SYNC_LOG_EXISTS", "sync log "+log.ID+" already exists")
	}
	s.logs[log.ID] = clone(*log)
	return nil
}

func (s *Store) Update(_ context.Context, log *domain.SyncLog) error {
	if err := synclog.Validate(log); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.logs[log.ID]
	if !ok {
		return apperrors.NotFound("sync log", log.ID)
	}
	if current.Status.Finished() {
		return synclog.ErrFinished(log.ID)
	}
	s.logs[log.ID] = clone(*log)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[id]
	if !ok {
		return nil, apperrors.NotFound("sync log", id)
	}
	out := clone(l)
	return &out, nil
}

func (s *Store) List(_ context.Context, filter domain.SyncLogFilter) ([]domain.SyncLog, int, error) {
	filter = synclog.NormalizeFilter(filter)

	s.mu.RLock()
	matched := make([]domain.SyncLog, 0, len(s.logs))
	for _, l := range s.logs {
		if synclog.Matches(&l, filter) {
			matched = append(matched, clone(l))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if filter.Offset >= total {
		return []domain.SyncLog{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}
