package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatbi/chatbi/internal/observability"
	"github.com/chatbi/chatbi/internal/semantic"
	"github.com/chatbi/chatbi/internal/sqlgen"
	"github.com/chatbi/chatbi/internal/warehouse"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a conversation. Execution, when present, always
// belongs to the most recent assistant turn at merge time.
type Turn struct {
	Role          Role               `json:"role"`
	Content       string             `json:"content"`
	SemanticQuery *semantic.Query    `json:"semantic_query,omitempty"`
	SQL           string             `json:"sql,omitempty"`
	Execution     *warehouse.Outcome `json:"execution,omitempty"`
	Debug         map[string]any     `json:"debug,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

type Request struct {
	Message        string
	ConversationID string
	ConnectionID   *int64
}

type Response struct {
	ConversationID string          `json:"conversation_id"`
	Reply          string          `json:"reply"`
	SemanticQuery  *semantic.Query `json:"semantic_query,omitempty"`
	SQL            string          `json:"sql,omitempty"`
	Executable     bool            `json:"executable"`
	Debug          map[string]any  `json:"debug,omitempty"`
}

type MetadataProvider interface {
	Summary(ctx context.Context, conn warehouse.Connection) (string, error)
}

type Converter interface {
	Convert(ctx context.Context, in semantic.ConvertInput) *semantic.Query
	LastDebug() map[string]any
}

type Resolver interface {
	Resolve(ctx context.Context, id *int64) (warehouse.Connection, error)
}

type Executor interface {
	Execute(ctx context.Context, sqlText string, conn warehouse.Connection) warehouse.Outcome
}

// Service owns the process-wide conversation map. Entries are created on
// first turn, cleared only by Clear, and never persisted across restarts.
// The map is sharded per conversation id: one mutex per conversation keeps
// unrelated conversations independent while serializing appends and outcome
// merges on the same id.
type Service struct {
	Metadata  MetadataProvider
	Converter Converter
	Resolver  Resolver
	Executor  Executor
	Generator func(*semantic.Query) string
	Logger    *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*conversation
}

type conversation struct {
	mu    sync.Mutex
	turns []Turn
}

func NewService(metadata MetadataProvider, converter Converter, resolver Resolver, executor Executor, logger *slog.Logger) *Service {
	return &Service{
		Metadata:      metadata,
		Converter:     converter,
		Resolver:      resolver,
		Executor:      executor,
		Generator:     sqlgen.Generate,
		Logger:        logger,
		conversations: map[string]*conversation{},
	}
}

// Process appends a user turn, drives enrich, convert and generate, and
// appends the assistant turn. Conversion and enrichment failures degrade
// into the assistant turn; the only error returned is an unknown explicit
// connection id.
func (s *Service) Process(ctx context.Context, req Request) (Response, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	conn, err := s.Resolver.Resolve(ctx, req.ConnectionID)
	if err != nil && req.ConnectionID != nil && errors.Is(err, warehouse.ErrNotFound) {
		return Response{}, err
	}

	conv := s.conversation(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	previousUserText := lastUserText(conv.turns)
	conv.turns = append(conv.turns, Turn{
		Role:      RoleUser,
		Content:   req.Message,
		Timestamp: time.Now().UTC(),
	})

	summary := ""
	if err == nil {
		summary, err = s.Metadata.Summary(ctx, conn)
	}
	if err != nil {
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "metadata enrichment degraded",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("conversation_id", conversationID),
				slog.Any("error", err),
			)
		}
		summary = ""
	}

	query := s.Converter.Convert(ctx, semantic.ConvertInput{
		UserText:         req.Message,
		PreviousUserText: previousUserText,
		MetadataSummary:  summary,
	})
	debug := s.Converter.LastDebug()

	assistant := Turn{
		Role:      RoleAssistant,
		Debug:     debug,
		Timestamp: time.Now().UTC(),
	}
	response := Response{
		ConversationID: conversationID,
		Debug:          debug,
	}

	if convErr, failed := debug["error"].(string); failed && query.IsEmpty() {
		assistant.Content = fmt.Sprintf("I could not turn that question into a query: %s", convErr)
	} else {
		sqlText := s.Generator(query)
		assistant.Content = "Here is the SQL generated for your question."
		assistant.SemanticQuery = query
		assistant.SQL = sqlText
		response.SemanticQuery = query
		response.SQL = sqlText
		response.Executable = !query.IsEmpty() && semantic.Validate(query)
	}
	response.Reply = assistant.Content

	conv.turns = append(conv.turns, assistant)
	observability.ObserveChatTurn()
	s.publishConversationCount()
	return response, nil
}

// ExecuteAndRecord runs SQL via the gateway and merges the outcome into the
// conversation's most recent assistant turn. Gateway failures arrive inside
// the outcome; only an unknown explicit connection id is an error.
func (s *Service) ExecuteAndRecord(ctx context.Context, conversationID, sqlText string, connectionID *int64) (warehouse.Outcome, error) {
	conn, err := s.Resolver.Resolve(ctx, connectionID)
	if err != nil {
		if connectionID != nil && errors.Is(err, warehouse.ErrNotFound) {
			return warehouse.Outcome{}, err
		}
		return warehouse.Outcome{Rows: []map[string]any{}, Error: err.Error()}, nil
	}

	outcome := s.Executor.Execute(ctx, sqlText, conn)

	if conversationID != "" {
		conv := s.lookup(conversationID)
		if conv != nil {
			conv.mu.Lock()
			for i := len(conv.turns) - 1; i >= 0; i-- {
				if conv.turns[i].Role == RoleAssistant {
					merged := outcome
					conv.turns[i].Execution = &merged
					break
				}
			}
			conv.mu.Unlock()
		}
	}
	return outcome, nil
}

// History returns a copy of the conversation's turns, oldest first. An
// unknown id yields an empty sequence, never a missing result.
func (s *Service) History(conversationID string) []Turn {
	conv := s.lookup(conversationID)
	if conv == nil {
		return []Turn{}
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	turns := make([]Turn, len(conv.turns))
	copy(turns, conv.turns)
	return turns
}

// LastOutcome returns the execution outcome of the most recent assistant
// turn, if one has been merged.
func (s *Service) LastOutcome(conversationID string) (warehouse.Outcome, bool) {
	conv := s.lookup(conversationID)
	if conv == nil {
		return warehouse.Outcome{}, false
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	for i := len(conv.turns) - 1; i >= 0; i-- {
		if conv.turns[i].Role == RoleAssistant && conv.turns[i].Execution != nil {
			return *conv.turns[i].Execution, true
		}
	}
	return warehouse.Outcome{}, false
}

// Clear drops all turns for an id. Clearing an unknown id is a no-op.
func (s *Service) Clear(conversationID string) {
	s.mu.Lock()
	delete(s.conversations, conversationID)
	s.mu.Unlock()
	s.publishConversationCount()
}

func (s *Service) conversation(id string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		conv = &conversation{}
		s.conversations[id] = conv
	}
	return conv
}

func (s *Service) lookup(id string) *conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[id]
}

func (s *Service) publishConversationCount() {
	s.mu.RLock()
	count := len(s.conversations)
	s.mu.RUnlock()
	observability.SetActiveConversations(count)
}

func lastUserText(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content
		}
	}
	return ""
}
