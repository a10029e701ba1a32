// Package session persists the durable chat record: numeric-id sessions
// and their message log. It is intentionally decoupled from the in-process
// conversation history the SQL pipeline works on; the two are never
// reconciled.
package session

import (
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one durable log entry. The structured payloads of assistant
// messages travel as JSON text columns; empty strings mean absent.
type Message struct {
	ID            int64     `json:"id"`
	SessionID     int64     `json:"session_id"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	SemanticJSON  string    `json:"semantic_sql,omitempty"`
	GeneratedSQL  string    `json:"generated_sql,omitempty"`
	ExecutionJSON string    `json:"execution_result,omitempty"`
	DebugJSON     string    `json:"debug_info,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
