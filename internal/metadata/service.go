package metadata

import (
	"context"
	"database/sql"

	"github.com/chatbi/chatbi/internal/warehouse"
)

// HandleSource hands out pooled database handles for target connections.
// Implemented by warehouse.Gateway.
type HandleSource interface {
	DB(conn warehouse.Connection) (*sql.DB, error)
}

// Service ties the builder to live connection handles so callers work in
// terms of connections, not raw databases.
type Service struct {
	Handles HandleSource
	Builder *Builder
}

func (s *Service) Tree(ctx context.Context, conn warehouse.Connection) (Tree, error) {
	db, err := s.Handles.DB(conn)
	if err != nil {
		return Tree{}, err
	}
	return s.Builder.Build(ctx, db, conn.Driver, conn.Host, conn.Database)
}

func (s *Service) Summary(ctx context.Context, conn warehouse.Connection) (string, error) {
	tree, err := s.Tree(ctx, conn)
	if err != nil {
		return "", err
	}
	return SummarizeForPrompt(tree), nil
}
