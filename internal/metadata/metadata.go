package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// Tree is the per-connection schema snapshot used to ground prompts. It is
// built fresh per request and never cached: the resolved connection can
// change between turns.
type Tree struct {
	Host     string           `json:"host"`
	Database string           `json:"database"`
	Tables   map[string]Table `json:"tables"`
}

type Table struct {
	Comment    string           `json:"comment"`
	Columns    []Column         `json:"columns"`
	SampleRows []map[string]any `json:"sample_rows"`
}

type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Builder inspects a target connection's catalog. A per-table failure
// degrades that table to empty comment/columns/samples rather than aborting
// the build; only a failed table listing is an error.
type Builder struct {
	SampleRows int
	Logger     *slog.Logger
}

const listTablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

const tableCommentQuery = `
SELECT COALESCE(obj_description(c.oid, 'pg_class'), '')
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2`

const listColumnsQuery = `
SELECT c.column_name, c.data_type, COALESCE(col_description(pgc.oid, c.ordinal_position::int), '')
FROM information_schema.columns c
JOIN pg_namespace n ON n.nspname = c.table_schema
JOIN pg_class pgc ON pgc.relname = c.table_name AND pgc.relnamespace = n.oid
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

const listColumnsPlainQuery = `
SELECT column_name, data_type, '' AS comment
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// Build inspects every base table of the given connection handle. The
// driver selects the introspection flavor: pg_catalog comment lookups for
// postgres, plain information_schema for duckdb.
func (b *Builder) Build(ctx context.Context, db querier, driver, host, database string) (Tree, error) {
	tree := Tree{Host: host, Database: database, Tables: map[string]Table{}}
	schema := defaultSchema(driver)

	names, err := b.listTables(ctx, db, schema)
	if err != nil {
		return tree, fmt.Errorf("list tables: %w", err)
	}

	for _, name := range names {
		table, err := b.buildTable(ctx, db, driver, schema, name)
		if err != nil {
			if b.Logger != nil {
				b.Logger.WarnContext(ctx, "table metadata degraded",
					slog.String("table", name),
					slog.Any("error", err),
				)
			}
			table = Table{Columns: []Column{}, SampleRows: []map[string]any{}}
		}
		tree.Tables[name] = table
	}
	return tree, nil
}

func (b *Builder) listTables(ctx context.Context, db querier, schema string) ([]string, error) {
	rows, err := db.QueryContext(ctx, listTablesQuery, schema)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return names, nil
}

func (b *Builder) buildTable(ctx context.Context, db querier, driver, schema, name string) (Table, error) {
	table := Table{Columns: []Column{}, SampleRows: []map[string]any{}}

	if driver == "postgres" {
		if err := db.QueryRowContext(ctx, tableCommentQuery, schema, name).Scan(&table.Comment); err != nil {
			return Table{}, fmt.Errorf("table comment: %w", err)
		}
	}

	columnsQuery := listColumnsQuery
	if driver != "postgres" {
		columnsQuery = listColumnsPlainQuery
	}
	rows, err := db.QueryContext(ctx, columnsQuery, schema, name)
	if err != nil {
		return Table{}, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var column Column
		if err := rows.Scan(&column.Name, &column.Type, &column.Comment); err != nil {
			return Table{}, fmt.Errorf("scan column: %w", err)
		}
		table.Columns = append(table.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate columns: %w", err)
	}

	samples, err := b.sampleRows(ctx, db, name)
	if err != nil {
		return Table{}, err
	}
	table.SampleRows = samples
	return table, nil
}

func (b *Builder) sampleRows(ctx context.Context, db querier, name string) ([]map[string]any, error) {
	limit := b.SampleRows
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, quoteIdent(name), limit)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sample columns: %w", err)
	}

	samples := make([]map[string]any, 0, limit)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		samples = append(samples, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample rows: %w", err)
	}
	return samples, nil
}

func defaultSchema(driver string) string {
	if driver == "duckdb" {
		return "main"
	}
	return "public"
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func normalizeValue(value any) any {
	if raw, ok := value.([]byte); ok {
		return string(raw)
	}
	return value
}
