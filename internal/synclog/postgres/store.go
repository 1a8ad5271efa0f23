// Package postgres implements synclog.Store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/synclog"
	"github.com/utafrali/catalogsync/internal/synclog/postgres/migrations"
	"github.com/utafrali/catalogsync/pkg/database"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

const logColumns = `id, kind, target_id, status, started_at, finished_at,
	items_processed, items_failed, items_deleted, first_error`

const insertSyncLog = `
	INSERT INTO sync_logs (` + logColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const updateRunningSyncLog = `
	UPDATE sync_logs
	SET status = $2, finished_at = $3, items_processed = $4,
		items_failed = $5, items_deleted = $6, first_error = $7
	WHERE id = $1 AND status = 'running'`

const selectSyncLogStatus = `SELECT status FROM sync_logs WHERE id = $1`

const selectSyncLogByID = `
	SELECT ` + logColumns + `
	FROM sync_logs
	WHERE id = $1`

// Store implements synclog.Store using PostgreSQL.
type Store struct {
	db database.DBTX
}

// NewStore creates a PostgreSQL-backed sync log store.
func NewStore(db database.DBTX) *Store {
	return &Store{db: db}
}

var _ synclog.Store = (*Store)(nil)

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db database.TxBeginner, logger *slog.Logger) error {
	return database.RunMigrations(ctx, db, migrations.FS, logger)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Append inserts a new sync log.
func (s *Store) Append(ctx context.Context, l *domain.SyncLog) (err error) {
	if err := synclog.Validate(l); err != nil {
		return err
	}
	ctx, end := database.TraceQuery(ctx, "AppendSyncLog", insertSyncLog)
	defer func() { end(err) }()

	_, err = s.db.Exec(ctx, insertSyncLog,
		l.ID,
		string(l.Kind),
		nullable(l.TargetID),
		string(l.Status),
		l.StartedAt,
		l.FinishedAt,
		l.ItemsProcessed,
		l.ItemsFailed,
		l.ItemsDeleted,
		l.FirstError,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("SYNC_LOG_EXISTS", "sync log "+l.ID+" already exists")
		}
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

// Update overwrites a running log's mutable fields.
func (s *Store) Update(ctx context.Context, l *domain.SyncLog) (err error) {
	if err := synclog.Validate(l); err != nil {
		return err
	}
	ctx, end := database.TraceQuery(ctx, "UpdateSyncLog", updateRunningSyncLog)
	defer func() { end(err) }()

	tag, err := s.db.Exec(ctx, updateRunningSyncLog,
		l.ID,
		string(l.Status),
		l.FinishedAt,
		l.ItemsProcessed,
		l.ItemsFailed,
		l.ItemsDeleted,
		l.FirstError,
	)
	if err != nil {
		return fmt.Errorf("update sync log: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	if err := s.db.QueryRow(ctx, selectSyncLogStatus, l.ID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("sync log", l.ID)
		}
		return fmt.Errorf("check sync log status: %w", err)
	}
	return synclog.ErrFinished(l.ID)
}

// Get retrieves a sync log by ID.
func (s *Store) Get(ctx context.Context, id string) (l *domain.SyncLog, err error) {
	ctx, end := database.TraceQuery(ctx, "GetSyncLog", selectSyncLogByID)
	defer func() { end(err) }()

	got, err := scanLog(s.db.QueryRow(ctx, selectSyncLogByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("sync log", id)
		}
		return nil, fmt.Errorf("get sync log: %w", err)
	}
	return &got, nil
}

// List returns sync logs matching filter, most recent first.
func (s *Store) List(ctx context.Context, filter domain.SyncLogFilter) (logs []domain.SyncLog, total int, err error) {
	filter = synclog.NormalizeFilter(filter)

	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, string(filter.Kind))
		argIndex++
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, statuses)
		argIndex++
	}

	if filter.FinishedOnly {
		conditions = append(conditions, "finished_at IS NOT NULL")
	}

	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", argIndex))
		args = append(args, filter.Since)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT count(*) FROM sync_logs " + whereClause
	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM sync_logs
		%s
		ORDER BY started_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		logColumns, whereClause, argIndex, argIndex+1,
	)

	ctx, end := database.TraceQuery(ctx, "ListSyncLogs", listQuery)
	defer func() { end(err) }()

	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sync logs: %w", err)
	}

	rows, err := s.db.Query(ctx, listQuery, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	logs = make([]domain.SyncLog, 0, filter.Limit)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sync log row: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate sync log rows: %w", err)
	}

	return logs, total, nil
}

func scanLog(row pgx.Row) (domain.SyncLog, error) {
	var (
		l        domain.SyncLog
		kind     string
		status   string
		targetID *string
	)
	err := row.Scan(
		&l.ID,
		&kind,
		&targetID,
		&status,
		&l.StartedAt,
		&l.FinishedAt,
		&l.ItemsProcessed,
		&l.ItemsFailed,
		&l.ItemsDeleted,
		&l.FirstError,
	)
	if err != nil {
		return domain.SyncLog{}, err
	}
	l.Kind = domain.SyncKind(kind)
	l.Status = domain.SyncStatus(status)
	if targetID != nil {
		l.TargetID = *targetID
	}
	return l, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}
