package service

import (
	"context"
	"fmt"
	"time"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/lease"
	"github.com/utafrali/catalogsync/internal/synclog"
)

// recentFailureLimit caps how many failed logs a status answer carries.
const recentFailureLimit = 10

// StatusReporter answers read-only questions about sync history.
type StatusReporter struct {
	leases lease.Store
	logs   synclog.Store
	window time.Duration
	now    func() time.Time
}

// NewStatusReporter creates a reporter that counts failures within window.
func NewStatusReporter(leases lease.Store, logs synclog.Store, window time.Duration) *StatusReporter {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &StatusReporter{
		leases: leases,
		logs:   logs,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CurrentStatus reports whether a full sync is running, the last finished
// full sync and the failed or partial jobs inside the failure window.
func (r *StatusReporter) CurrentStatus(ctx context.Context) (*domain.SyncHealth, error) {
	holder, err := r.leases.Holder(ctx, lease.FullSyncKey)
	if err != nil {
		return nil, fmt.Errorf("check full sync lease: %w", err)
	}

	health := &domain.SyncHealth{
		Running:           holder != "",
		RecentFailureLogs: []domain.SyncLog{},
	}

	last, _, err := r.logs.List(ctx, domain.SyncLogFilter{
		Kind:         domain.SyncKindFull,
		FinishedOnly: true,
		Limit:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("last full sync: %w", err)
	}
	if len(last) > 0 && last[0].FinishedAt != nil {
		health.LastFullSync = &domain.LastFullSync{
			FinishedAt:     *last[0].FinishedAt,
			Status:         last[0].Status,
			ItemsProcessed: last[0].ItemsProcessed,
			ItemsFailed:    last[0].ItemsFailed,
		}
	}

	failures, total, err := r.logs.List(ctx, domain.SyncLogFilter{
		Statuses: []domain.SyncStatus{domain.StatusFailed, domain.StatusPartial},
		Since:    r.now().Add(-r.window),
		Limit:    recentFailureLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	health.RecentFailures = total
	health.RecentFailureLogs = append(health.RecentFailureLogs, failures...)

	return health, nil
}

// GetLog returns one sync log.
func (r *StatusReporter) GetLog(ctx context.Context, id string) (*domain.SyncLog, error) {
	return r.logs.Get(ctx, id)
}

// ListLogs returns logs newest first with the total match count.
func (r *StatusReporter) ListLogs(ctx context.Context, filter domain.SyncLogFilter) ([]domain.SyncLog, int, error) {
	return r.logs.List(ctx, synclog.NormalizeFilter(filter))
}
