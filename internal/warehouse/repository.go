package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository persists connections in the application's own Postgres store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const connectionColumns = `id, name, driver, host, port, username, password, database_name, ssl_mode, description, is_default, is_active, created_at, updated_at`

func (r *Repository) List(ctx context.Context) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+connectionColumns+`
FROM database_connection
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	connections := make([]Connection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return connections, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Connection, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+connectionColumns+`
FROM database_connection
WHERE id = $1`, id)

	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, err
	}
	return conn, nil
}

func (r *Repository) Active(ctx context.Context) (Connection, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+connectionColumns+`
FROM database_connection
WHERE is_active = TRUE
ORDER BY id ASC
LIMIT 1`)

	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, err
	}
	return conn, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM database_connection`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}
	return count, nil
}

func (r *Repository) Create(ctx context.Context, conn Connection) (Connection, error) {
	query := `
INSERT INTO database_connection (name, driver, host, port, username, password, database_name, ssl_mode, description, is_default, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, created_at, updated_at`

	if err := r.db.QueryRowContext(ctx, query,
		conn.Name, conn.Driver, conn.Host, conn.Port, conn.Username, conn.Password,
		conn.Database, conn.SSLMode, conn.Description, conn.IsDefault, conn.IsActive,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
		return Connection{}, fmt.Errorf("create connection: %w", err)
	}
	return conn, nil
}

func (r *Repository) Update(ctx context.Context, conn Connection) (Connection, error) {
	query := `
UPDATE database_connection
SET name = $2, driver = $3, host = $4, port = $5, username = $6, password = $7,
    database_name = $8, ssl_mode = $9, description = $10, updated_at = NOW()
WHERE id = $1
RETURNING updated_at`

	if err := r.db.QueryRowContext(ctx, query,
		conn.ID, conn.Name, conn.Driver, conn.Host, conn.Port, conn.Username, conn.Password,
		conn.Database, conn.SSLMode, conn.Description,
	).Scan(&conn.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, ErrNotFound
		}
		return Connection{}, fmt.Errorf("update connection: %w", err)
	}
	return conn, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM database_connection
WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete connection rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Activate marks one connection active and all others inactive.
func (r *Repository) Activate(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE database_connection
SET is_active = FALSE
WHERE is_active = TRUE`); err != nil {
		return fmt.Errorf("deactivate connections: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
UPDATE database_connection
SET is_active = TRUE, updated_at = NOW()
WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("activate connection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (Connection, error) {
	var conn Connection
	if err := row.Scan(
		&conn.ID,
		&conn.Name,
		&conn.Driver,
		&conn.Host,
		&conn.Port,
		&conn.Username,
		&conn.Password,
		&conn.Database,
		&conn.SSLMode,
		&conn.Description,
		&conn.IsDefault,
		&conn.IsActive,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, err
		}
		return Connection{}, fmt.Errorf("scan connection row: %w", err)
	}
	return conn, nil
}
