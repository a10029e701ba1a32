package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatbi/chatbi/internal/auth"
	"github.com/chatbi/chatbi/internal/session"
)

// anonymousUserID is used when the auth middleware is disabled and no
// identity is attached to the request.
const anonymousUserID = "anonymous"

func userIDFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.UserID
	}
	return anonymousUserID
}

func sessionIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session was not found", false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_STORE_ERROR", "session store operation failed", true, map[string]any{"details": err.Error()})
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	sessions, err := deps.Sessions.ListForUser(r.Context(), userIDFromRequest(r))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	var request struct {
		Title string `json:"title"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid session request body", false, map[string]any{"details": err.Error()})
		return
	}
	created, err := deps.Sessions.Create(r.Context(), userIDFromRequest(r), request.Title)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	id, err := sessionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id must be an integer", false, nil)
		return
	}
	found, err := deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func handleSessionMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	id, err := sessionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id must be an integer", false, nil)
		return
	}
	messages, err := deps.Sessions.Messages(r.Context(), id)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": messages})
}

func handleRenameSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	id, err := sessionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id must be an integer", false, nil)
		return
	}
	var request struct {
		Title string `json:"title"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid session request body", false, map[string]any{"details": err.Error()})
		return
	}
	if request.Title == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TITLE_REQUIRED", "title is required", false, nil)
		return
	}
	if err := deps.Sessions.Rename(r.Context(), id, request.Title); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "renamed"})
}

func handleArchiveSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return
	}
	id, err := sessionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id must be an integer", false, nil)
		return
	}
	if err := deps.Sessions.Archive(r.Context(), id); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "archived"})
}

func handlePermissions(_ Dependencies, w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     identity.UserID,
		"permissions": auth.Permissions(identity),
	})
}
