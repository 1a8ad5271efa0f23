// Package sqlite implements synclog.Store on an embedded SQLite file for
// single-node deployments. Timestamps are stored as unix nanoseconds.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/synclog"
	"github.com/utafrali/catalogsync/pkg/database"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

//go:embed schema.sql
var schema string

const logColumns = `id, kind, target_id, status, started_at, finished_at,
	items_processed, items_failed, items_deleted, first_error`

const insertSyncLog = `
	INSERT INTO sync_logs (` + logColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateRunningSyncLog = `
	UPDATE sync_logs
	SET status = ?, finished_at = ?, items_processed = ?,
		items_failed = ?, items_deleted = ?, first_error = ?
	WHERE id = ? AND status = 'running'`

const selectSyncLogByID = `SELECT ` + logColumns + ` FROM sync_logs WHERE id = ?`

// Store is a SQLite-backed synclog.Store.
type Store struct {
	db   *sql.DB
	path string
}

var _ synclog.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; readers share the connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func trace(ctx context.Context, op, stmt string) (context.Context, func(error)) {
	return database.TraceQueryFor(ctx, "sqlite", op, stmt)
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Append inserts a new sync log.
func (s *Store) Append(ctx context.Context, l *domain.SyncLog) (err error) {
	if err := synclog.Validate(l); err != nil {
		return err
	}
	ctx, end := trace(ctx, "AppendSyncLog", insertSyncLog)
	defer func() { end(err) }()

	target := sql.NullString{String: l.TargetID, Valid: l.TargetID != ""}
	_, err = s.db.ExecContext(ctx, insertSyncLog,
		l.ID, string(l.Kind), target, string(l.Status),
		l.StartedAt.UnixNano(), nanos(l.FinishedAt),
		l.ItemsProcessed, l.ItemsFailed, l.ItemsDeleted, nullString(l.FirstError),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Conflict("SYNC_LOG_EXISTS", "sync log "+l.ID+" already exists")
		}
		return fmt.Errorf("inserting sync log: %w", err)
	}
	return nil
}

// Update overwrites a running log's mutable fields.
func (s *Store) Update(ctx context.Context, l *domain.SyncLog) (err error) {
	if err := synclog.Validate(l); err != nil {
		return err
	}
	ctx, end := trace(ctx, "UpdateSyncLog", updateRunningSyncLog)
	defer func() { end(err) }()

	res, err := s.db.ExecContext(ctx, updateRunningSyncLog,
		string(l.Status), nanos(l.FinishedAt),
		l.ItemsProcessed, l.ItemsFailed, l.ItemsDeleted, nullString(l.FirstError),
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("updating sync log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM sync_logs WHERE id = ?", l.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound("sync log", l.ID)
	}
	if err != nil {
		return fmt.Errorf("checking sync log status: %w", err)
	}
	return synclog.ErrFinished(l.ID)
}

// Get retrieves a sync log by ID.
func (s *Store) Get(ctx context.Context, id string) (l *domain.SyncLog, err error) {
	ctx, end := trace(ctx, "GetSyncLog", selectSyncLogByID)
	defer func() { end(err) }()

	got, err := scanLog(s.db.QueryRowContext(ctx, selectSyncLogByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("sync log", id)
		}
		return nil, fmt.Errorf("getting sync log: %w", err)
	}
	return &got, nil
}

// List returns sync logs matching filter, most recent first.
func (s *Store) List(ctx context.Context, filter domain.SyncLogFilter) (logs []domain.SyncLog, total int, err error) {
	filter = synclog.NormalizeFilter(filter)

	var (
		conditions []string
		args       []any
	)
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.FinishedOnly {
		conditions = append(conditions, "finished_at IS NOT NULL")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	listQuery := "SELECT " + logColumns + " FROM sync_logs" + whereClause +
		" ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"

	ctx, end := trace(ctx, "ListSyncLogs", listQuery)
	defer func() { end(err) }()

	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM sync_logs"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting sync logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, listQuery, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing sync logs: %w", err)
	}
	defer rows.Close()

	logs = make([]domain.SyncLog, 0, filter.Limit)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning sync log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating sync logs: %w", err)
	}
	return logs, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner) (domain.SyncLog, error) {
	var (
		l          domain.SyncLog
		kind       string
		status     string
		target     sql.NullString
		startedAt  int64
		finishedAt sql.NullInt64
		firstError sql.NullString
	)
	err := row.Scan(
		&l.ID, &kind, &target, &status, &startedAt, &finishedAt,
		&l.ItemsProcessed, &l.ItemsFailed, &l.ItemsDeleted, &firstError,
	)
	if err != nil {
		return domain.SyncLog{}, err
	}

	l.Kind = domain.SyncKind(kind)
	l.Status = domain.SyncStatus(status)
	l.TargetID = target.String
	l.StartedAt = time.Unix(0, startedAt).UTC()
	if finishedAt.Valid {
		t := time.Unix(0, finishedAt.Int64).UTC()
		l.FinishedAt = &t
	}
	if firstError.Valid {
		msg := firstError.String
		l.FirstError = &msg
	}
	return l, nil
}
