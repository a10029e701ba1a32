package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatbi/chatbi/internal/semantic"
	"github.com/chatbi/chatbi/internal/warehouse"
)

// Service layers JSON serialization of the pipeline's structured values on
// top of the repository.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, userID, title string) (Session, error) {
	if title == "" {
		title = "New conversation"
	}
	return s.repo.CreateSession(ctx, userID, title)
}

func (s *Service) Get(ctx context.Context, id int64) (Session, error) {
	return s.repo.GetSession(ctx, id)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

func (s *Service) Rename(ctx context.Context, id int64, title string) error {
	if title == "" {
		return fmt.Errorf("session title is required")
	}
	return s.repo.RenameSession(ctx, id, title)
}

func (s *Service) Archive(ctx context.Context, id int64) error {
	return s.repo.ArchiveSession(ctx, id)
}

func (s *Service) Messages(ctx context.Context, sessionID int64) ([]Message, error) {
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID)
}

func (s *Service) RecordUserMessage(ctx context.Context, sessionID int64, content string) (Message, error) {
	message, err := s.repo.AppendMessage(ctx, Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
	})
	if err != nil {
		return Message{}, err
	}
	return message, s.repo.TouchSession(ctx, sessionID)
}

func (s *Service) RecordAssistantMessage(ctx context.Context, sessionID int64, content string, query *semantic.Query, sqlText string, debug map[string]any) (Message, error) {
	message := Message{
		SessionID:    sessionID,
		Role:         "assistant",
		Content:      content,
		GeneratedSQL: sqlText,
	}

	if query != nil {
		raw, err := json.Marshal(query)
		if err != nil {
			return Message{}, fmt.Errorf("marshal semantic query: %w", err)
		}
		message.SemanticJSON = string(raw)
	}
	if len(debug) > 0 {
		raw, err := json.Marshal(debug)
		if err != nil {
			return Message{}, fmt.Errorf("marshal debug trace: %w", err)
		}
		message.DebugJSON = string(raw)
	}

	message, err := s.repo.AppendMessage(ctx, message)
	if err != nil {
		return Message{}, err
	}
	return message, s.repo.TouchSession(ctx, sessionID)
}

// RecordExecution folds an execution outcome into the session's most
// recent assistant message.
func (s *Service) RecordExecution(ctx context.Context, sessionID int64, outcome warehouse.Outcome) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal execution outcome: %w", err)
	}
	if err := s.repo.SetLastAssistantExecution(ctx, sessionID, string(raw)); err != nil {
		return err
	}
	return s.repo.TouchSession(ctx, sessionID)
}
