package warehouse

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound signals an explicit connection id that does not exist.
	// It is the one resolution failure surfaced to API callers undigested.
	ErrNotFound = errors.New("connection not found")

	ErrLastConnection    = errors.New("cannot delete the last connection")
	ErrDefaultConnection = errors.New("cannot delete the default connection")
)

const (
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// Connection describes a target database queries run against. For duckdb
// connections Database holds the local database file path and the network
// fields are unused.
type Connection struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Driver      string    `json:"driver"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	Password    string    `json:"-"`
	Database    string    `json:"database"`
	SSLMode     string    `json:"ssl_mode"`
	Description string    `json:"description"`
	IsDefault   bool      `json:"is_default"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c Connection) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("connection name is required")
	}
	switch c.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Host) == "" {
			return fmt.Errorf("connection host is required")
		}
		if strings.TrimSpace(c.Database) == "" {
			return fmt.Errorf("connection database is required")
		}
	case DriverDuckDB:
		if strings.TrimSpace(c.Database) == "" {
			return fmt.Errorf("connection database path is required")
		}
	default:
		return fmt.Errorf("unsupported driver: %q", c.Driver)
	}
	return nil
}

// DSN renders the database/sql data source name for the connection.
func (c Connection) DSN() string {
	if c.Driver == DriverDuckDB {
		return c.Database
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	u.RawQuery = "sslmode=" + sslMode
	return u.String()
}

func driverName(driver string) string {
	if driver == DriverDuckDB {
		return "duckdb"
	}
	return "pgx"
}
