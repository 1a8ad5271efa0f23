package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/catalog"
	"github.com/utafrali/catalogsync/pkg/database"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

var columns = []string{"id", "name", "description", "team", "season", "type", "category", "size", "price", "active", "updated_at"}

var updated = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return mock
}

func row(id string, price *int64, active bool) []any {
	return []any{id, "Jersey " + id, "", "Fenerbahce", "2024-25", "jersey", "football", "L", price, active, updated}
}

func int64Ptr(v int64) *int64 { return &v }

func TestReader_GetByID(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM products WHERE id = \\$1").
		WithArgs("A").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(row("A", int64Ptr(1000), true)...))

	p, err := NewReader(mock).GetByID(context.Background(), "A")

	require.NoError(t, err)
	assert.Equal(t, "A", p.ID)
	assert.Equal(t, int64(1000), *p.Price)
	assert.True(t, p.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_FoldsNullTextColumns(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	// The database answers "" for NULL optional columns; the row below is
	// what COALESCE yields for a product with no team, season or size.
	mock.ExpectQuery(`SELECT id, COALESCE\(name, ''\), COALESCE\(description, ''\), COALESCE\(team, ''\), ` +
		`COALESCE\(season, ''\), COALESCE\(type, ''\), COALESCE\(category, ''\), COALESCE\(size, ''\), ` +
		`price, active, updated_at FROM products WHERE id > \$1`).
		WithArgs("", 10).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("A", "Scarf", "", "", "", "accessory", "", "", int64Ptr(500), true, updated))

	page, err := NewReader(mock).ListPage(context.Background(), "", 10)

	require.NoError(t, err)
	require.Len(t, page.Products, 1)
	p := page.Products[0]
	assert.Empty(t, p.Team)
	assert.Empty(t, p.Season)
	assert.Empty(t, p.Size)
	assert.Equal(t, "accessory", p.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM products WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	p, err := NewReader(mock).GetByID(context.Background(), "missing")

	assert.Nil(t, p)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, catalog.IsTransient(err))
}

func TestReader_ListPage_FullPageHasToken(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM products WHERE id > \\$1 ORDER BY id ASC LIMIT \\$2").
		WithArgs("", 2).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(row("A", int64Ptr(1), true)...).
			AddRow(row("B", nil, true)...))

	page, err := NewReader(mock).ListPage(context.Background(), "", 2)

	require.NoError(t, err)
	require.Len(t, page.Products, 2)
	assert.Nil(t, page.Products[1].Price)
	assert.Equal(t, "B", page.NextToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_ListPage_ShortPageEndsScan(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM products WHERE id > \\$1").
		WithArgs("B", 2).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(row("C", int64Ptr(5), false)...))

	page, err := NewReader(mock).ListPage(context.Background(), "B", 2)

	require.NoError(t, err)
	assert.Len(t, page.Products, 1)
	assert.Empty(t, page.NextToken)
}

func TestReader_ListPage_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"timeout", context.DeadlineExceeded, true},
		{"connection exception", &pgconn.PgError{Code: "08006", Message: "connection failure"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: "relation \"products\" does not exist"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			defer mock.Close()

			mock.ExpectQuery("SELECT .+ FROM products").
				WithArgs("", 10).
				WillReturnError(tt.err)

			_, err := NewReader(mock).ListPage(context.Background(), "", 10)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.transient, catalog.IsTransient(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
