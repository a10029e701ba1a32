package session

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateSession(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO chat_session (user_id, title)
VALUES ($1, $2)
RETURNING id, created_at, updated_at`)).
		WithArgs("u-1", "Revenue questions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), now, now))

	s, err := repo.CreateSession(context.Background(), "u-1", "Revenue questions")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if s.ID != 11 || s.UserID != "u-1" {
		t.Fatalf("session = %+v", s)
	}
	assertSQLMock(t, mock)
}

func TestGetSessionNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, user_id, title, archived, created_at, updated_at
FROM chat_session
WHERE id = $1`)).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetSession(context.Background(), 404); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("error = %v, want %v", err, ErrSessionNotFound)
	}
	assertSQLMock(t, mock)
}

func TestListSessionsExcludesArchived(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, user_id, title, archived, created_at, updated_at
FROM chat_session
WHERE user_id = $1 AND archived = FALSE
ORDER BY updated_at DESC`)).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "archived", "created_at", "updated_at"}).
			AddRow(int64(2), "u-1", "Later", false, now, now).
			AddRow(int64(1), "u-1", "Earlier", false, now, now))

	sessions, err := repo.ListSessions(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != 2 {
		t.Fatalf("sessions = %+v", sessions)
	}
	assertSQLMock(t, mock)
}

func TestRenameSessionNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE chat_session
SET title = $2, updated_at = NOW()
WHERE id = $1`)).
		WithArgs(int64(404), "new title").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.RenameSession(context.Background(), 404, "new title"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("error = %v, want %v", err, ErrSessionNotFound)
	}
	assertSQLMock(t, mock)
}

func TestAppendMessageStoresJSONColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO chat_message (session_id, role, content, semantic_sql, generated_sql, execution_result, debug_info)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
RETURNING id, created_at`)).
		WithArgs(int64(11), "assistant", "Here is the SQL generated for your question.",
			`{"tables":["orders"]}`, "SELECT * FROM orders", "", `{"raw_response":"{}"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	message, err := repo.AppendMessage(context.Background(), Message{
		SessionID:    11,
		Role:         "assistant",
		Content:      "Here is the SQL generated for your question.",
		SemanticJSON: `{"tables":["orders"]}`,
		GeneratedSQL: "SELECT * FROM orders",
		DebugJSON:    `{"raw_response":"{}"}`,
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if message.ID != 7 {
		t.Fatalf("message = %+v", message)
	}
	assertSQLMock(t, mock)
}

func TestListMessagesHandlesNullColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT id, session_id, role, content, semantic_sql, generated_sql, execution_result, debug_info, created_at
FROM chat_message
WHERE session_id = $1
ORDER BY id ASC`)).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content", "semantic_sql", "generated_sql", "execution_result", "debug_info", "created_at"}).
			AddRow(int64(1), int64(11), "user", "count orders", nil, nil, nil, nil, now).
			AddRow(int64(2), int64(11), "assistant", "done", `{"tables":["orders"]}`, "SELECT COUNT(*) FROM orders", nil, nil, now))

	messages, err := repo.ListMessages(context.Background(), 11)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %+v", messages)
	}
	if messages[0].SemanticJSON != "" {
		t.Fatalf("user message should have empty semantic json: %+v", messages[0])
	}
	if messages[1].GeneratedSQL != "SELECT COUNT(*) FROM orders" {
		t.Fatalf("assistant message = %+v", messages[1])
	}
	assertSQLMock(t, mock)
}

func TestSetLastAssistantExecution(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE chat_message
SET execution_result = $2
WHERE id = (
	SELECT id FROM chat_message
	WHERE session_id = $1 AND role = 'assistant'
	ORDER BY id DESC
	LIMIT 1
)`)).
		WithArgs(int64(11), `{"success":true,"rows":[],"row_count":3}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetLastAssistantExecution(context.Background(), 11, `{"success":true,"rows":[],"row_count":3}`); err != nil {
		t.Fatalf("SetLastAssistantExecution() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestHousekeepingQueries(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	cutoff := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE chat_session
SET archived = TRUE
WHERE archived = FALSE AND updated_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM chat_session
WHERE archived = TRUE AND updated_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	archived, err := repo.ArchiveIdleBefore(context.Background(), cutoff)
	if err != nil || archived != 4 {
		t.Fatalf("ArchiveIdleBefore() = %d, %v", archived, err)
	}
	purged, err := repo.PurgeArchivedBefore(context.Background(), cutoff)
	if err != nil || purged != 2 {
		t.Fatalf("PurgeArchivedBefore() = %d, %v", purged, err)
	}
	assertSQLMock(t, mock)
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

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
