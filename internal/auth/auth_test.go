package auth

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestParseLoginTokenRawJSON(t *testing.T) {
	identity, err := ParseLoginToken(`{"userId":"u-1","roleNames":["admin","analyst"]}`)
	if err != nil {
		t.Fatalf("ParseLoginToken() error = %v", err)
	}
	if identity.UserID != "u-1" || !identity.HasRole("admin") || !identity.HasRole("analyst") {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestParseLoginTokenBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"userId":"u-2","roleNames":["analyst"]}`))
	identity, err := ParseLoginToken(encoded)
	if err != nil {
		t.Fatalf("ParseLoginToken() error = %v", err)
	}
	if identity.UserID != "u-2" || identity.HasRole("admin") {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestParseLoginTokenRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not-a-token", `{"roleNames":["admin"]}`} {
		if _, err := ParseLoginToken(raw); err == nil {
			t.Fatalf("ParseLoginToken(%q) should fail", raw)
		}
	}
}

func TestPermissionsByRole(t *testing.T) {
	admin := Permissions(Identity{UserID: "u-1", Roles: []string{RoleAdmin}})
	if !admin["can_manage_connections"] || !admin["can_export"] {
		t.Fatalf("admin permissions = %v", admin)
	}

	analyst := Permissions(Identity{UserID: "u-2", Roles: []string{RoleAnalyst}})
	if analyst["can_manage_connections"] || !analyst["can_export"] {
		t.Fatalf("analyst permissions = %v", analyst)
	}

	viewer := Permissions(Identity{UserID: "u-3"})
	if !viewer["can_chat"] || viewer["can_export"] {
		t.Fatalf("viewer permissions = %v", viewer)
	}
}

type fakeWhitelist struct {
	allowed map[string]bool
	roles   map[string]string
	err     error
	roleErr error
}

func (f *fakeWhitelist) IsWhitelisted(_ context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.allowed[userID], nil
}

func (f *fakeWhitelist) Role(_ context.Context, userID string) (string, error) {
	if f.roleErr != nil {
		return "", f.roleErr
	}
	return f.roles[userID], nil
}

func TestWhitelistValidator(t *testing.T) {
	validator := &WhitelistValidator{Whitelist: &fakeWhitelist{allowed: map[string]bool{"u-1": true}}}

	if _, ok := validator.Validate(context.Background(), `{"userId":"u-1","roleNames":["admin"]}`); !ok {
		t.Fatal("whitelisted user should validate")
	}
	if _, ok := validator.Validate(context.Background(), `{"userId":"u-9","roleNames":[]}`); ok {
		t.Fatal("unlisted user should not validate")
	}
	if _, ok := validator.Validate(context.Background(), "garbage"); ok {
		t.Fatal("unparseable token should not validate")
	}

	failing := &WhitelistValidator{Whitelist: &fakeWhitelist{err: errors.New("db down")}}
	if _, ok := failing.Validate(context.Background(), `{"userId":"u-1"}`); ok {
		t.Fatal("lookup failure should not validate")
	}
}

func TestWhitelistValidatorFoldsStoredRole(t *testing.T) {
	validator := &WhitelistValidator{Whitelist: &fakeWhitelist{
		allowed: map[string]bool{"u-1": true},
		roles:   map[string]string{"u-1": "ADMIN"},
	}}

	identity, ok := validator.Validate(context.Background(), `{"userId":"u-1","roleNames":["analyst"]}`)
	if !ok {
		t.Fatal("whitelisted user should validate")
	}
	if !identity.HasRole(RoleAdmin) || !identity.HasRole(RoleAnalyst) {
		t.Fatalf("identity = %+v", identity)
	}
	if !Permissions(identity)["can_manage_connections"] {
		t.Fatal("stored admin role should grant connection management")
	}

	// Role lookup failures fall back to whatever the token carried.
	degraded := &WhitelistValidator{Whitelist: &fakeWhitelist{
		allowed: map[string]bool{"u-1": true},
		roleErr: errors.New("db down"),
	}}
	identity, ok = degraded.Validate(context.Background(), `{"userId":"u-1","roleNames":["analyst"]}`)
	if !ok {
		t.Fatal("role lookup failure should not reject a whitelisted user")
	}
	if identity.HasRole(RoleAdmin) || !identity.HasRole(RoleAnalyst) {
		t.Fatalf("identity = %+v", identity)
	}
}

func TestMiddlewareRejectsAndPassesThrough(t *testing.T) {
	validator := &WhitelistValidator{Whitelist: &fakeWhitelist{allowed: map[string]bool{"u-1": true}}}
	var captured Identity
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	request := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	request.Header.Set("Login-Token", `{"userId":"u-1","roleNames":["admin"]}`)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", recorder.Code)
	}
	if captured.UserID != "u-1" {
		t.Fatalf("identity = %+v", captured)
	}
}

func TestWhitelistRepository(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewWhitelistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT EXISTS (
	SELECT 1 FROM user_whitelist
	WHERE user_id = $1 AND enabled = TRUE
)`)).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	allowed, err := repo.IsWhitelisted(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("IsWhitelisted() error = %v", err)
	}
	if !allowed {
		t.Fatal("expected whitelisted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestWhitelistRepositoryRole(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewWhitelistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT role FROM user_whitelist
WHERE user_id = $1 AND enabled = TRUE`)).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("ADMIN"))

	role, err := repo.Role(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Role() error = %v", err)
	}
	if role != "ADMIN" {
		t.Fatalf("role = %q", role)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT role FROM user_whitelist
WHERE user_id = $1 AND enabled = TRUE`)).
		WithArgs("u-9").
		WillReturnError(sql.ErrNoRows)

	role, err = repo.Role(context.Background(), "u-9")
	if err != nil {
		t.Fatalf("Role() error = %v", err)
	}
	if role != "" {
		t.Fatalf("role = %q, want empty for unlisted user", role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}
