package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatbi/chatbi/internal/warehouse"
)

// connectionFromQuery resolves the optional connection_id query parameter
// to a target connection.
func connectionFromQuery(deps Dependencies, r *http.Request) (warehouse.Connection, error) {
	var id *int64
	if raw := r.URL.Query().Get("connection_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return warehouse.Connection{}, errBadConnectionID
		}
		id = &parsed
	}
	return deps.Registry.Resolve(r.Context(), id)
}

var errBadConnectionID = errors.New("connection_id must be an integer")

func writeConnectionResolutionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadConnectionID):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", err.Error(), false, nil)
	case errors.Is(err, warehouse.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection was not found", false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "CONNECTION_RESOLUTION_FAILED", "failed to resolve connection", true, map[string]any{"details": err.Error()})
	}
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil || deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	conn, err := connectionFromQuery(deps, r)
	if err != nil {
		writeConnectionResolutionError(w, r, err)
		return
	}
	tables, err := deps.Gateway.ListTables(r.Context(), conn)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "WAREHOUSE_ERROR", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func handleTableSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil || deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	conn, err := connectionFromQuery(deps, r)
	if err != nil {
		writeConnectionResolutionError(w, r, err)
		return
	}
	table := r.PathValue("table")
	columns, err := deps.Gateway.TableSchema(r.Context(), conn, table)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "WAREHOUSE_ERROR", "failed to read table schema", true, map[string]any{"details": err.Error()})
		return
	}
	if len(columns) == 0 {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table was not found", false, map[string]any{"table": table})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "columns": columns})
}

type commentUpdateRequest struct {
	Comment string `json:"comment"`
}

func handleUpdateColumnComment(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil || deps.Gateway == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}

	var request commentUpdateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid comment update body", false, map[string]any{"details": err.Error()})
		return
	}

	conn, err := connectionFromQuery(deps, r)
	if err != nil {
		writeConnectionResolutionError(w, r, err)
		return
	}

	table := r.PathValue("table")
	column := r.PathValue("column")
	if err := deps.Gateway.UpdateColumnComment(r.Context(), conn, table, column, request.Comment); err != nil {
		if errors.Is(err, warehouse.ErrBadIdentifier) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_IDENTIFIER", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "WAREHOUSE_ERROR", "failed to update column comment", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Comment updated successfully"})
}

func handleMetadataTree(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil || deps.Metadata == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	conn, err := connectionFromQuery(deps, r)
	if err != nil {
		writeConnectionResolutionError(w, r, err)
		return
	}
	tree, err := deps.Metadata.Tree(r.Context(), conn)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "WAREHOUSE_ERROR", "failed to build metadata tree", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tree)
}
