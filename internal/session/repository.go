package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateSession(ctx context.Context, userID, title string) (Session, error) {
	query := `
INSERT INTO chat_session (user_id, title)
VALUES ($1, $2)
RETURNING id, created_at, updated_at`

	s := Session{UserID: userID, Title: title}
	if err := r.db.QueryRowContext(ctx, query, userID, title).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (r *Repository) GetSession(ctx context.Context, id int64) (Session, error) {
	query := `
SELECT id, user_id, title, archived, created_at, updated_at
FROM chat_session
WHERE id = $1`

	var s Session
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.UserID, &s.Title, &s.Archived, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *Repository) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, title, archived, created_at, updated_at
FROM chat_session
WHERE user_id = $1 AND archived = FALSE
ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]Session, 0)
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.Archived, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

func (r *Repository) RenameSession(ctx context.Context, id int64, title string) error {
	return r.updateSession(ctx, `
UPDATE chat_session
SET title = $2, updated_at = NOW()
WHERE id = $1`, id, title)
}

func (r *Repository) ArchiveSession(ctx context.Context, id int64) error {
	return r.updateSession(ctx, `
UPDATE chat_session
SET archived = TRUE, updated_at = NOW()
WHERE id = $1`, id)
}

func (r *Repository) TouchSession(ctx context.Context, id int64) error {
	return r.updateSession(ctx, `
UPDATE chat_session
SET updated_at = NOW()
WHERE id = $1`, id)
}

func (r *Repository) updateSession(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *Repository) ListMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, role, content, semantic_sql, generated_sql, execution_result, debug_info, created_at
FROM chat_message
WHERE session_id = $1
ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		var semanticJSON, generatedSQL, executionJSON, debugJSON sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content,
			&semanticJSON, &generatedSQL, &executionJSON, &debugJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.SemanticJSON = semanticJSON.String
		m.GeneratedSQL = generatedSQL.String
		m.ExecutionJSON = executionJSON.String
		m.DebugJSON = debugJSON.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func (r *Repository) AppendMessage(ctx context.Context, m Message) (Message, error) {
	query := `
INSERT INTO chat_message (session_id, role, content, semantic_sql, generated_sql, execution_result, debug_info)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
RETURNING id, created_at`

	if err := r.db.QueryRowContext(ctx, query,
		m.SessionID, m.Role, m.Content, m.SemanticJSON, m.GeneratedSQL, m.ExecutionJSON, m.DebugJSON,
	).Scan(&m.ID, &m.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// SetLastAssistantExecution attaches an execution result to the session's
// most recent assistant message.
func (r *Repository) SetLastAssistantExecution(ctx context.Context, sessionID int64, executionJSON string) error {
	query := `
UPDATE chat_message
SET execution_result = $2
WHERE id = (
	SELECT id FROM chat_message
	WHERE session_id = $1 AND role = 'assistant'
	ORDER BY id DESC
	LIMIT 1
)`

	result, err := r.db.ExecContext(ctx, query, sessionID, executionJSON)
	if err != nil {
		return fmt.Errorf("set last assistant execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set execution rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *Repository) ArchiveIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE chat_session
SET archived = TRUE
WHERE archived = FALSE AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive idle sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) PurgeArchivedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM chat_session
WHERE archived = TRUE AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge archived sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return affected, nil
}
