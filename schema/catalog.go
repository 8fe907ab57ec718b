package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// Catalog answers structural questions about the source schema. A missing
// relationship is a normal value (empty string), not an error; errors mean
// the lookup itself failed.
type Catalog interface {
	// ForeignKeyColumns returns the foreign-key column names of table.
	ForeignKeyColumns(ctx context.Context, table string) ([]string, error)

	// ForeignKeyTarget returns the table a foreign-key column references,
	// or "" when the column carries no foreign key.
	ForeignKeyTarget(ctx context.Context, table, column string) (string, error)

	// PrimaryKeyColumn returns the first primary-key column of table.
	PrimaryKeyColumn(ctx context.Context, table string) (string, error)
}

// Source reads current row images from the source database.
type Source interface {
	// ReadRow returns the row of table whose pkColumn equals id, as a
	// column-to-value map, or nil when the row no longer exists.
	ReadRow(ctx context.Context, table, pkColumn, id string) (map[string]any, error)
}

// PgCatalog resolves schema structure from the PostgreSQL system catalogs.
type PgCatalog struct {
	pool *pgxpool.Pool
}

func NewPgCatalog(pool *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{pool: pool}
}

const foreignKeyColumnsSQL = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON kcu.constraint_name = tc.constraint_name
    AND kcu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
    AND tc.table_name = $1
ORDER BY kcu.column_name`

func (c *PgCatalog) ForeignKeyColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := c.pool.Query(ctx, foreignKeyColumnsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan foreign key column: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

const foreignKeyTargetSQL = `
SELECT ccu.table_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON kcu.constraint_name = tc.constraint_name
    AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
    ON ccu.constraint_name = tc.constraint_name
    AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
    AND tc.table_name = $1
    AND kcu.column_name = $2
LIMIT 1`

func (c *PgCatalog) ForeignKeyTarget(ctx context.Context, table, column string) (string, error) {
	var target string
	err := c.pool.QueryRow(ctx, foreignKeyTargetSQL, table, column).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve foreign key target of %s.%s: %w", table, column, err)
	}
	return target, nil
}

const primaryKeyColumnSQL = `
SELECT a.attname
FROM pg_index i
JOIN pg_attribute a
    ON a.attrelid = i.indrelid
    AND a.attnum = ANY(i.indkey)
WHERE i.indrelid = $1::regclass
    AND i.indisprimary`

func (c *PgCatalog) PrimaryKeyColumn(ctx context.Context, table string) (string, error) {
	var column string
	err := c.pool.QueryRow(ctx, primaryKeyColumnSQL, table).Scan(&column)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("table %s has no primary key", table)
	}
	if err != nil {
		return "", fmt.Errorf("resolve primary key of %s: %w", table, err)
	}
	return column, nil
}

var _ Catalog = (*PgCatalog)(nil)

// PgSource reads current row images through a pgx pool.
type PgSource struct {
	pool *pgxpool.Pool
}

func NewPgSource(pool *pgxpool.Pool) *PgSource {
	return &PgSource{pool: pool}
}

func (s *PgSource) ReadRow(ctx context.Context, table, pkColumn, id string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT to_jsonb(t) FROM %s t WHERE t.%s::text = $1",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(pkColumn))

	var row map[string]any
	err := s.pool.QueryRow(ctx, query, id).Scan(&row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read row %s/%s: %w", table, id, err)
	}
	return row, nil
}

var _ Source = (*PgSource)(nil)
