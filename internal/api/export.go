package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/chatbi/chatbi/internal/storage"
)

type exportRequest struct {
	ConversationID string `json:"conversation_id"`
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	var request exportRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.ConversationID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "CONVERSATION_ID_REQUIRED", "conversation_id is required", false, nil)
		return
	}

	result, err := deps.Exporter.ExportConversation(r.Context(), request.ConversationID)
	if err != nil {
		writeError(r.Context(), w, http.StatusConflict, "EXPORT_FAILED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleDownloadExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	key := r.PathValue("key")
	reader, err := deps.Objects.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export object was not found", false, map[string]any{"key": key})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to read export object", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func handleDeleteExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	key := r.PathValue("key")
	if err := deps.Objects.Delete(r.Context(), key); err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to delete export object", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "key": key})
}
