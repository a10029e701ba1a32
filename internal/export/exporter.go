// Package export turns executed query results into Parquet files in the
// object store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/chatbi/chatbi/internal/observability"
	"github.com/chatbi/chatbi/internal/storage"
	"github.com/chatbi/chatbi/internal/warehouse"
)

const parquetContentType = "application/vnd.apache.parquet"

type Result struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	Rows int64  `json:"rows"`
}

// OutcomeSource resolves the most recent execution outcome of a
// conversation.
type OutcomeSource interface {
	LastOutcome(conversationID string) (warehouse.Outcome, bool)
}

type Exporter struct {
	Store  storage.ObjectStore
	Source OutcomeSource
	Prefix string
	Logger *slog.Logger

	now func() time.Time
}

func NewExporter(store storage.ObjectStore, source OutcomeSource, prefix string, logger *slog.Logger) *Exporter {
	return &Exporter{
		Store:  store,
		Source: source,
		Prefix: prefix,
		Logger: logger,
		now:    time.Now,
	}
}

// Each result row is stored as a single JSON column. Result sets have no
// fixed schema, so a typed Parquet layout cannot be derived up front.
type resultRow struct {
	RowJSON string `parquet:"row_json"`
}

// ExportConversation writes the last successful execution result of the
// conversation to the object store and returns the object key.
func (e *Exporter) ExportConversation(ctx context.Context, conversationID string) (Result, error) {
	if conversationID == "" {
		return Result{}, fmt.Errorf("conversation id is required")
	}
	outcome, ok := e.Source.LastOutcome(conversationID)
	if !ok {
		return Result{}, fmt.Errorf("conversation %q has no executed query", conversationID)
	}
	if !outcome.Success {
		return Result{}, fmt.Errorf("last execution for conversation %q failed: %s", conversationID, outcome.Error)
	}

	data, err := encodeRows(outcome.Rows)
	if err != nil {
		return Result{}, err
	}

	clock := e.now
	if clock == nil {
		clock = time.Now
	}
	key := path.Join(e.Prefix, conversationID, fmt.Sprintf("%d.parquet", clock().UTC().UnixMilli()))

	// The store applies its own physical prefix; the returned key stays
	// logical so it round-trips through Get and Delete on the same store.
	info, err := e.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType})
	if err != nil {
		return Result{}, fmt.Errorf("store export: %w", err)
	}

	observability.IncrementResultExport()
	if e.Logger != nil {
		e.Logger.InfoContext(ctx, "exported query result",
			slog.String("conversation_id", conversationID),
			slog.String("key", key),
			slog.Int64("size", info.Size),
			slog.Int("rows", len(outcome.Rows)),
		)
	}

	return Result{Key: key, Size: info.Size, Rows: int64(len(outcome.Rows))}, nil
}

func encodeRows(rows []map[string]any) ([]byte, error) {
	encoded := make([]resultRow, 0, len(rows))
	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("marshal result row: %w", err)
		}
		encoded = append(encoded, resultRow{RowJSON: string(payload)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[resultRow](buf)
	if len(encoded) > 0 {
		if _, err := writer.Write(encoded); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
