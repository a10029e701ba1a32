package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/chatbi/chatbi/internal/chat"
	"github.com/chatbi/chatbi/internal/warehouse"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	ConnectionID   *int64 `json:"connection_id"`
	SessionID      *int64 `json:"session_id"`
}

type executeRequest struct {
	SQL            string `json:"sql"`
	ConversationID string `json:"conversation_id"`
	ConnectionID   *int64 `json:"connection_id"`
	SessionID      *int64 `json:"session_id"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}

	var request chatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	response, err := deps.Chat.Process(r.Context(), chat.Request{
		Message:        request.Message,
		ConversationID: request.ConversationID,
		ConnectionID:   request.ConnectionID,
	})
	if err != nil {
		if errors.Is(err, warehouse.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_FAILED", "chat processing failed", true, map[string]any{"details": err.Error()})
		return
	}

	// Folding the turn into the durable session log is best-effort: a write
	// failure there never fails the chat response.
	if request.SessionID != nil && deps.Sessions != nil {
		if _, err := deps.Sessions.RecordUserMessage(r.Context(), *request.SessionID, request.Message); err != nil {
			logSessionRecordFailure(deps, r, *request.SessionID, err)
		} else if _, err := deps.Sessions.RecordAssistantMessage(r.Context(), *request.SessionID, response.Reply, response.SemanticQuery, response.SQL, response.Debug); err != nil {
			logSessionRecordFailure(deps, r, *request.SessionID, err)
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func logSessionRecordFailure(deps Dependencies, r *http.Request, sessionID int64, err error) {
	if deps.Logger == nil {
		return
	}
	deps.Logger.WarnContext(r.Context(), "session record failed",
		slog.Int64("session_id", sessionID),
		slog.Any("error", err),
	)
}

func handleExecuteSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}

	var request executeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	outcome, err := deps.Chat.ExecuteAndRecord(r.Context(), request.ConversationID, request.SQL, request.ConnectionID)
	if err != nil {
		if errors.Is(err, warehouse.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "EXECUTION_FAILED", "sql execution failed", true, map[string]any{"details": err.Error()})
		return
	}

	if request.SessionID != nil && deps.Sessions != nil {
		if err := deps.Sessions.RecordExecution(r.Context(), *request.SessionID, outcome); err != nil {
			logSessionRecordFailure(deps, r, *request.SessionID, err)
		}
	}

	writeJSON(w, http.StatusOK, outcome)
}

func handleConversationHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	conversationID := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"turns":           deps.Chat.History(conversationID),
	})
}

func handleClearConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	deps.Chat.Clear(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}
