// Package synclog persists the audit trail of sync attempts.
package synclog

import (
	"context"
	"fmt"

	"github.com/utafrali/catalogsync/internal/domain"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

// DefaultListLimit applies when a filter leaves Limit unset.
const DefaultListLimit = 50

// Store records and queries SyncLogs. A log may only be updated while it is
// running; once finished it is frozen.
type Store interface {
	Append(ctx context.Context, log *domain.SyncLog) error
	// Update returns a conflict when the stored log is already finished and
	// apperrors.ErrNotFound when it does not exist.
	Update(ctx context.Context, log *domain.SyncLog) error
	Get(ctx context.Context, id string) (*domain.SyncLog, error)
	// List returns one page ordered by started_at DESC, id DESC and the
	// total number of matching logs.
	List(ctx context.Context, filter domain.SyncLogFilter) ([]domain.SyncLog, int, error)
}

// ErrFinished is the conflict returned for updates to a frozen log.
func ErrFinished(id string) error {
	return apperrors.Conflict("SYNC_LOG_FINISHED", fmt.Sprintf("sync log %s is already finished", id))
}

// Validate checks the fields every backend relies on.
func Validate(log *domain.SyncLog) error {
	switch {
	case log.ID == "":
		return apperrors.InvalidInput("sync log id is required")
	case !log.Kind.Valid():
		return apperrors.InvalidInput(fmt.Sprintf("invalid sync kind %q", log.Kind))
	case !log.Status.Valid():
		return apperrors.InvalidInput(fmt.Sprintf("invalid sync status %q", log.Status))
	case log.Kind == domain.SyncKindSingle && log.TargetID == "":
		return apperrors.InvalidInput("single sync log requires a target id")
	case log.StartedAt.IsZero():
		return apperrors.InvalidInput("sync log started_at is required")
	}
	return nil
}

// NormalizeFilter fills the defaults backends apply.
func NormalizeFilter(f domain.SyncLogFilter) domain.SyncLogFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether log passes filter. It backs in-process stores.
func Matches(log *domain.SyncLog, f domain.SyncLogFilter) bool {
	if f.Kind != "" && log.Kind != f.Kind {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if log.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.FinishedOnly && log.FinishedAt == nil {
		return false
	}
	if !f.Since.IsZero() && log.StartedAt.Before(f.Since) {
		return false
	}
	return true
}
