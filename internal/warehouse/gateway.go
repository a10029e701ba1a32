package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/chatbi/chatbi/internal/observability"
)

// Outcome is the result of one SQL execution. The gateway never returns a
// Go error: failures arrive as Success=false with the message in Error, so
// the pipeline can fold them into the conversation instead of raising.
type Outcome struct {
	Success  bool             `json:"success"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Error    string           `json:"error,omitempty"`
}

type TableColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Gateway runs SQL against target connections over pooled database/sql
// handles, one pool per distinct DSN.
type Gateway struct {
	QueryTimeout  time.Duration
	MaxResultRows int
	Logger        *slog.Logger

	openFunc func(driver, dsn string) (*sql.DB, error)

	mu    sync.Mutex
	pools map[string]*sql.DB
}

func NewGateway(queryTimeout time.Duration, maxResultRows int, logger *slog.Logger) *Gateway {
	return &Gateway{
		QueryTimeout:  queryTimeout,
		MaxResultRows: maxResultRows,
		Logger:        logger,
		openFunc: func(driver, dsn string) (*sql.DB, error) {
			return sql.Open(driver, dsn)
		},
		pools: map[string]*sql.DB{},
	}
}

// DB returns the pooled handle for a connection, opening it on first use.
func (g *Gateway) DB(conn Connection) (*sql.DB, error) {
	driver := driverName(conn.Driver)
	dsn := conn.DSN()
	key := driver + "|" + dsn

	g.mu.Lock()
	defer g.mu.Unlock()
	if db, ok := g.pools[key]; ok {
		return db, nil
	}
	db, err := g.openFunc(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", conn.Driver, err)
	}
	g.pools[key] = db
	return db, nil
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, db := range g.pools {
		_ = db.Close()
		delete(g.pools, key)
	}
}

func (g *Gateway) Execute(ctx context.Context, sqlText string, conn Connection) Outcome {
	start := time.Now()
	outcome := g.execute(ctx, sqlText, conn)
	observability.ObserveSQLExecution(outcome.Success, time.Since(start))
	if g.Logger != nil && !outcome.Success {
		g.Logger.WarnContext(ctx, "sql execution failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.Int64("connection_id", conn.ID),
			slog.String("error", outcome.Error),
		)
	}
	return outcome
}

func (g *Gateway) execute(ctx context.Context, sqlText string, conn Connection) Outcome {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return Outcome{Rows: []map[string]any{}, Error: "sql is required"}
	}

	db, err := g.DB(conn)
	if err != nil {
		return Outcome{Rows: []map[string]any{}, Error: err.Error()}
	}

	if g.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.QueryTimeout)
		defer cancel()
	}

	if isRowReturning(sqlText) {
		return g.runQuery(ctx, db, sqlText)
	}
	return g.runExec(ctx, db, sqlText)
}

func (g *Gateway) runQuery(ctx context.Context, db *sql.DB, sqlText string) Outcome {
	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return Outcome{Rows: []map[string]any{}, Error: err.Error()}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Outcome{Rows: []map[string]any{}, Error: err.Error()}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		if g.MaxResultRows > 0 && len(resultRows) >= g.MaxResultRows {
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Outcome{Rows: []map[string]any{}, Error: err.Error()}
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return Outcome{Rows: []map[string]any{}, Error: err.Error()}
	}

	return Outcome{Success: true, Rows: resultRows, RowCount: len(resultRows)}
}

func (g *Gateway) runExec(ctx context.Context, db *sql.DB, sqlText string) Outcome {
	result, err := db.ExecContext(ctx, sqlText)
	if err != nil {
		return Outcome{Rows: []map[string]any{}, Error: err.Error()}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	return Outcome{Success: true, Rows: []map[string]any{}, RowCount: int(affected)}
}

const listTablesQuery = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

const tableColumnsQuery = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

func (g *Gateway) ListTables(ctx context.Context, conn Connection) ([]string, error) {
	db, err := g.DB(conn)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, listTablesQuery, schemaFor(conn))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
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

func (g *Gateway) TableSchema(ctx context.Context, conn Connection, table string) ([]TableColumn, error) {
	db, err := g.DB(conn)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, tableColumnsQuery, schemaFor(conn), table)
	if err != nil {
		return nil, fmt.Errorf("table schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]TableColumn, 0)
	for rows.Next() {
		var column TableColumn
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// ErrBadIdentifier marks a table or column name that cannot be spliced
// into a DDL statement.
var ErrBadIdentifier = errors.New("invalid identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// UpdateColumnComment sets the catalog comment on one column. Column
// comments feed the prompt summary, so editing them is the lever for tuning
// what the model sees about a table. An empty comment clears the existing
// one.
func (g *Gateway) UpdateColumnComment(ctx context.Context, conn Connection, table, column, comment string) error {
	if !identifierPattern.MatchString(table) {
		return fmt.Errorf("%w: table %q", ErrBadIdentifier, table)
	}
	if !identifierPattern.MatchString(column) {
		return fmt.Errorf("%w: column %q", ErrBadIdentifier, column)
	}

	db, err := g.DB(conn)
	if err != nil {
		return err
	}
	if g.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.QueryTimeout)
		defer cancel()
	}

	literal := "NULL"
	if comment != "" {
		literal = "'" + strings.ReplaceAll(comment, "'", "''") + "'"
	}
	stmt := fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", table, column, literal)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("update comment on %s.%s: %w", table, column, err)
	}
	return nil
}

// TestConnection opens the target and asks for its version string.
func (g *Gateway) TestConnection(ctx context.Context, conn Connection) (string, error) {
	db, err := g.DB(conn)
	if err != nil {
		return "", err
	}
	if g.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.QueryTimeout)
		defer cancel()
	}
	var version string
	if err := db.QueryRowContext(ctx, `SELECT version()`).Scan(&version); err != nil {
		return "", fmt.Errorf("test connection: %w", err)
	}
	return version, nil
}

func isRowReturning(sqlText string) bool {
	upper := strings.ToUpper(sqlText)
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "DESCRIBE"} {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}

func schemaFor(conn Connection) string {
	if conn.Driver == DriverDuckDB {
		return "main"
	}
	return "public"
}

func normalizeValue(value any) any {
	if raw, ok := value.([]byte); ok {
		return string(raw)
	}
	return value
}
