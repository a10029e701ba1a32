package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatbi/chatbi/internal/warehouse"
)

type connectionRequest struct {
	Name        string `json:"name"`
	Driver      string `json:"driver"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Database    string `json:"database"`
	SSLMode     string `json:"ssl_mode"`
	Description string `json:"description"`
}

func (req connectionRequest) toConnection() warehouse.Connection {
	return warehouse.Connection{
		Name:        req.Name,
		Driver:      req.Driver,
		Host:        req.Host,
		Port:        req.Port,
		Username:    req.Username,
		Password:    req.Password,
		Database:    req.Database,
		SSLMode:     req.SSLMode,
		Description: req.Description,
	}
}

func connectionIDFromPath(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeConnectionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, warehouse.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection was not found", false, nil)
	case errors.Is(err, warehouse.ErrDefaultConnection):
		writeError(r.Context(), w, http.StatusConflict, "DEFAULT_CONNECTION", "the default connection cannot be deleted", false, nil)
	case errors.Is(err, warehouse.ErrLastConnection):
		writeError(r.Context(), w, http.StatusConflict, "LAST_CONNECTION", "the last remaining connection cannot be deleted", false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "CONNECTION_STORE_ERROR", "connection store operation failed", true, map[string]any{"details": err.Error()})
	}
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}
	connections, err := deps.Registry.List(r.Context())
	if err != nil {
		writeConnectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": connections})
}

func handleCreateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}
	var request connectionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connection request body", false, map[string]any{"details": err.Error()})
		return
	}
	created, err := deps.Registry.Create(r.Context(), request.toConnection())
	if err != nil {
		if errors.Is(err, warehouse.ErrNotFound) {
			writeConnectionError(w, r, err)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func handleGetConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}
	id, err := connectionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "connection id must be an integer", false, nil)
		return
	}
	conn, err := deps.Registry.Get(r.Context(), id)
	if err != nil {
		writeConnectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func handleUpdateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}
	id, err := connectionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "connection id must be an integer", false, nil)
		return
	}
	var request connectionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connection request body", false, map[string]any{"details": err.Error()})
		return
	}
	conn := request.toConnection()
	conn.ID = id
	updated, err := deps.Registry.Update(r.Context(), conn)
	if err != nil {
		if errors.Is(err, warehouse.ErrNotFound) {
			writeConnectionError(w, r, err)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func handleDeleteConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}
	id, err := connectionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "connection id must be an integer", false, nil)
		return
	}
	if err := deps.Registry.Delete(r.Context(), id); err != nil {
		writeConnectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func handleActivateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}
	id, err := connectionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "connection id must be an integer", false, nil)
		return
	}
	if err := deps.Registry.Activate(r.Context(), id); err != nil {
		writeConnectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "activated"})
}

func handleTestConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil || deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "connection dependencies are not configured", false, nil)
		return
	}
	id, err := connectionIDFromPath(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "connection id must be an integer", false, nil)
		return
	}
	conn, err := deps.Registry.Get(r.Context(), id)
	if err != nil {
		writeConnectionError(w, r, err)
		return
	}
	version, err := deps.Gateway.TestConnection(r.Context(), conn)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": version})
}
