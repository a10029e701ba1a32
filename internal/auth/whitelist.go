package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WhitelistRepository reads the user whitelist from the app store.
type WhitelistRepository struct {
	db *sql.DB
}

func NewWhitelistRepository(db *sql.DB) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

func (r *WhitelistRepository) IsWhitelisted(ctx context.Context, userID string) (bool, error) {
	var allowed bool
	query := `
SELECT EXISTS (
	SELECT 1 FROM user_whitelist
	WHERE user_id = $1 AND enabled = TRUE
)`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return allowed, nil
}

// Role returns the role stored alongside a whitelist entry. An unlisted or
// disabled user yields the empty role, not an error.
func (r *WhitelistRepository) Role(ctx context.Context, userID string) (string, error) {
	var role string
	query := `
SELECT role FROM user_whitelist
WHERE user_id = $1 AND enabled = TRUE`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read whitelist role: %w", err)
	}
	return role, nil
}
