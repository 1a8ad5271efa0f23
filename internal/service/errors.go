package service

import (
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

// Rejections returned before any job state is created. The conflicts wrap
// apperrors.ErrConflict and the unavailable error wraps
// apperrors.ErrServiceUnavail, so handlers map them to 409 and 503.
var (
	ErrSyncAlreadyRunning = apperrors.Conflict("SYNC_ALREADY_RUNNING", "a full sync is already running")
	ErrFullSyncInProgress = apperrors.Conflict("FULL_SYNC_IN_PROGRESS", "a full sync is in progress; retry the item sync after it finishes")
	ErrItemSyncInProgress = apperrors.Conflict("ITEM_SYNC_IN_PROGRESS", "a sync of this item is already running")
	ErrItemSyncsRunning   = apperrors.Conflict("ITEM_SYNCS_RUNNING", "single-item syncs are still running; retry the full sync shortly")
	ErrServiceUnavailable = apperrors.ServiceUnavailable("search index is not configured")
)
