package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/catalogsync/internal/catalog"
	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/pkg/database"
	apperrors "github.com/utafrali/catalogsync/pkg/errors"
)

// productColumns folds NULL text columns to "" so a sparse row reaches the
// mapper, which decides whether it is indexable.
const productColumns = `id,
	COALESCE(name, ''),
	COALESCE(description, ''),
	COALESCE(team, ''),
	COALESCE(season, ''),
	COALESCE(type, ''),
	COALESCE(category, ''),
	COALESCE(size, ''),
	price, active, updated_at`

const selectProductByID = `
	SELECT ` + productColumns + `
	FROM products
	WHERE id = $1`

const selectProductPage = `
	SELECT ` + productColumns + `
	FROM products
	WHERE id > $1
	ORDER BY id ASC
	LIMIT $2`

// Reader implements catalog.Reader over the catalog's products table.
type Reader struct {
	db database.DBTX
}

// NewReader creates a PostgreSQL-backed catalog reader.
func NewReader(db database.DBTX) *Reader {
	return &Reader{db: db}
}

var _ catalog.Reader = (*Reader)(nil)

// GetByID retrieves a product by its ID.
func (r *Reader) GetByID(ctx context.Context, id string) (p *domain.CatalogProduct, err error) {
	ctx, end := database.TraceQuery(ctx, "GetCatalogProduct", selectProductByID)
	defer func() { end(err) }()

	product, err := scanProduct(r.db.QueryRow(ctx, selectProductByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, classify("get product", err)
	}
	return &product, nil
}

// ListPage returns the next keyset page. The token is the last ID of the
// previous page; rows inserted behind it are picked up by the next run.
func (r *Reader) ListPage(ctx context.Context, pageToken string, limit int) (page *catalog.Page, err error) {
	ctx, end := database.TraceQuery(ctx, "ListCatalogProducts", selectProductPage)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, selectProductPage, pageToken, limit)
	if err != nil {
		return nil, classify("list products", err)
	}
	defer rows.Close()

	products := make([]domain.CatalogProduct, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, classify("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate products", err)
	}

	page = &catalog.Page{Products: products}
	if len(products) == limit && limit > 0 {
		page.NextToken = products[len(products)-1].ID
	}
	return page, nil
}

func scanProduct(row pgx.Row) (domain.CatalogProduct, error) {
	var p domain.CatalogProduct
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Team,
		&p.Season,
		&p.Type,
		&p.Category,
		&p.Size,
		&p.Price,
		&p.Active,
		&p.UpdatedAt,
	)
	return p, err
}

// classify marks connection-level failures transient. SQLSTATE class 08 is
// connection exception; 57P01 is an admin shutdown; 40001 a serialization
// failure.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || database.IsConnectionError(err) {
		return catalog.Transient(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" || pgErr.Code == "57P01" || pgErr.Code == "40001" {
			return catalog.Transient(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
