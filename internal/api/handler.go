package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatbi/chatbi/internal/chat"
	"github.com/chatbi/chatbi/internal/config"
	"github.com/chatbi/chatbi/internal/export"
	"github.com/chatbi/chatbi/internal/metadata"
	"github.com/chatbi/chatbi/internal/observability"
	"github.com/chatbi/chatbi/internal/semantic"
	"github.com/chatbi/chatbi/internal/session"
	"github.com/chatbi/chatbi/internal/storage"
	"github.com/chatbi/chatbi/internal/warehouse"
)

type ReadinessCheck func(ctx context.Context) error

type ChatService interface {
	Process(ctx context.Context, req chat.Request) (chat.Response, error)
	ExecuteAndRecord(ctx context.Context, conversationID, sqlText string, connectionID *int64) (warehouse.Outcome, error)
	History(conversationID string) []chat.Turn
	Clear(conversationID string)
}

type ConnectionRegistry interface {
	List(ctx context.Context) ([]warehouse.Connection, error)
	Get(ctx context.Context, id int64) (warehouse.Connection, error)
	Create(ctx context.Context, conn warehouse.Connection) (warehouse.Connection, error)
	Update(ctx context.Context, conn warehouse.Connection) (warehouse.Connection, error)
	Delete(ctx context.Context, id int64) error
	Activate(ctx context.Context, id int64) error
	Resolve(ctx context.Context, id *int64) (warehouse.Connection, error)
}

type SchemaGateway interface {
	ListTables(ctx context.Context, conn warehouse.Connection) ([]string, error)
	TableSchema(ctx context.Context, conn warehouse.Connection, table string) ([]warehouse.TableColumn, error)
	UpdateColumnComment(ctx context.Context, conn warehouse.Connection, table, column, comment string) error
	TestConnection(ctx context.Context, conn warehouse.Connection) (string, error)
}

type MetadataService interface {
	Tree(ctx context.Context, conn warehouse.Connection) (metadata.Tree, error)
}

type SessionService interface {
	Create(ctx context.Context, userID, title string) (session.Session, error)
	Get(ctx context.Context, id int64) (session.Session, error)
	ListForUser(ctx context.Context, userID string) ([]session.Session, error)
	Rename(ctx context.Context, id int64, title string) error
	Archive(ctx context.Context, id int64) error
	Messages(ctx context.Context, sessionID int64) ([]session.Message, error)
	RecordUserMessage(ctx context.Context, sessionID int64, content string) (session.Message, error)
	RecordAssistantMessage(ctx context.Context, sessionID int64, content string, query *semantic.Query, sqlText string, debug map[string]any) (session.Message, error)
	RecordExecution(ctx context.Context, sessionID int64, outcome warehouse.Outcome) error
}

type ExportRunner interface {
	ExportConversation(ctx context.Context, conversationID string) (export.Result, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Chat              ChatService
	Registry          ConnectionRegistry
	Gateway           SchemaGateway
	Metadata          MetadataService
	Sessions          SessionService
	Exporter          ExportRunner
	Objects           storage.ObjectStore
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	protected.HandleFunc("POST /v1/sql/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSQL(deps, w, r)
	})
	protected.HandleFunc("GET /v1/conversations/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		handleConversationHistory(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleClearConversation(deps, w, r)
	})

	protected.HandleFunc("GET /v1/tables", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})
	protected.HandleFunc("GET /v1/tables/{table}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleTableSchema(deps, w, r)
	})
	protected.HandleFunc("PUT /v1/tables/{table}/columns/{column}/comment", func(w http.ResponseWriter, r *http.Request) {
		handleUpdateColumnComment(deps, w, r)
	})
	protected.HandleFunc("GET /v1/metadata", func(w http.ResponseWriter, r *http.Request) {
		handleMetadataTree(deps, w, r)
	})

	protected.HandleFunc("GET /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	protected.HandleFunc("POST /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleCreateConnection(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetConnection(deps, w, r)
	})
	protected.HandleFunc("PUT /v1/connections/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleUpdateConnection(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/connections/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteConnection(deps, w, r)
	})
	protected.HandleFunc("POST /v1/connections/{id}/activate", func(w http.ResponseWriter, r *http.Request) {
		handleActivateConnection(deps, w, r)
	})
	protected.HandleFunc("POST /v1/connections/{id}/test", func(w http.ResponseWriter, r *http.Request) {
		handleTestConnection(deps, w, r)
	})

	protected.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleListSessions(deps, w, r)
	})
	protected.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleCreateSession(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		handleSessionMessages(deps, w, r)
	})
	protected.HandleFunc("PATCH /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleRenameSession(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleArchiveSession(deps, w, r)
	})

	protected.HandleFunc("POST /v1/export", func(w http.ResponseWriter, r *http.Request) {
		handleExport(deps, w, r)
	})
	protected.HandleFunc("GET /v1/exports/{key...}", func(w http.ResponseWriter, r *http.Request) {
		handleDownloadExport(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/exports/{key...}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteExport(deps, w, r)
	})

	protected.HandleFunc("GET /v1/permissions", func(w http.ResponseWriter, r *http.Request) {
		handlePermissions(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/chat", protectedHandler)
	mux.Handle("POST /v1/sql/execute", protectedHandler)
	mux.Handle("GET /v1/conversations/{id}/history", protectedHandler)
	mux.Handle("DELETE /v1/conversations/{id}", protectedHandler)
	mux.Handle("GET /v1/tables", protectedHandler)
	mux.Handle("GET /v1/tables/{table}/schema", protectedHandler)
	mux.Handle("PUT /v1/tables/{table}/columns/{column}/comment", protectedHandler)
	mux.Handle("GET /v1/metadata", protectedHandler)
	mux.Handle("GET /v1/connections", protectedHandler)
	mux.Handle("POST /v1/connections", protectedHandler)
	mux.Handle("GET /v1/connections/{id}", protectedHandler)
	mux.Handle("PUT /v1/connections/{id}", protectedHandler)
	mux.Handle("DELETE /v1/connections/{id}", protectedHandler)
	mux.Handle("POST /v1/connections/{id}/activate", protectedHandler)
	mux.Handle("POST /v1/connections/{id}/test", protectedHandler)
	mux.Handle("GET /v1/sessions", protectedHandler)
	mux.Handle("POST /v1/sessions", protectedHandler)
	mux.Handle("GET /v1/sessions/{id}", protectedHandler)
	mux.Handle("GET /v1/sessions/{id}/messages", protectedHandler)
	mux.Handle("PATCH /v1/sessions/{id}", protectedHandler)
	mux.Handle("DELETE /v1/sessions/{id}", protectedHandler)
	mux.Handle("POST /v1/export", protectedHandler)
	mux.Handle("GET /v1/exports/{key...}", protectedHandler)
	mux.Handle("DELETE /v1/exports/{key...}", protectedHandler)
	mux.Handle("GET /v1/permissions", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckAppStoreDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.AppStore.DSN == "" {
			return errors.New("app store dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
