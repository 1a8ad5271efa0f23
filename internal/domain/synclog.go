package domain

import "time"

// SyncKind distinguishes full resyncs from single-item resyncs.
type SyncKind string

const (
	SyncKindFull   SyncKind = "full"
	SyncKindSingle SyncKind = "single"
)

// Valid reports whether k is a known kind.
func (k SyncKind) Valid() bool {
	return k == SyncKindFull || k == SyncKindSingle
}

// SyncStatus is the lifecycle state of a sync attempt.
type SyncStatus string

const (
	StatusRunning SyncStatus = "running"
	StatusSuccess SyncStatus = "success"
	StatusFailed  SyncStatus = "failed"
	StatusPartial SyncStatus = "partial"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusFailed, StatusPartial:
		return true
	}
	return false
}

// Finished reports whether s is terminal.
func (s SyncStatus) Finished() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusPartial
}

// SyncLog records one sync attempt. It is written by the job that owns it and
// frozen once Status leaves running.
type SyncLog struct {
	ID             string     `json:"id"`
	Kind           SyncKind   `json:"kind"`
	TargetID       string     `json:"target_id,omitempty"`
	Status         SyncStatus `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
	// ItemsDeleted counts acknowledged deletes, including ids the index
	// never held.
	ItemsDeleted   int        `json:"items_deleted"`
	FirstError     *string    `json:"first_error"`
}

// Duration is zero while the log is running.
func (l *SyncLog) Duration() time.Duration {
	if l.FinishedAt == nil {
		return 0
	}
	return l.FinishedAt.Sub(l.StartedAt)
}

// SyncLogFilter narrows a log listing. Zero values match everything.
type SyncLogFilter struct {
	Kind         SyncKind
	Statuses     []SyncStatus
	FinishedOnly bool
	Since        time.Time
	Limit        int
	Offset       int
}

// LastFullSync summarizes the most recent finished full sync.
type LastFullSync struct {
	FinishedAt     time.Time  `json:"finished_at"`
	Status         SyncStatus `json:"status"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
}

// SyncHealth is the status reporter's answer.
type SyncHealth struct {
	Running           bool          `json:"running"`
	LastFullSync      *LastFullSync `json:"last_full_sync"`
	RecentFailures    int           `json:"recent_failures"`
	RecentFailureLogs []SyncLog     `json:"recent_failure_logs"`
}
