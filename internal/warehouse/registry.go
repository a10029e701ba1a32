package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Store is the persistence surface the registry needs. Implemented by
// Repository; faked in tests.
type Store interface {
	List(ctx context.Context) ([]Connection, error)
	Get(ctx context.Context, id int64) (Connection, error)
	Active(ctx context.Context) (Connection, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, conn Connection) (Connection, error)
	Update(ctx context.Context, conn Connection) (Connection, error)
	Delete(ctx context.Context, id int64) error
	Activate(ctx context.Context, id int64) error
}

// Registry resolves which connection a request runs against and owns the
// connection lifecycle rules: default bootstrap when the store is empty,
// active-connection fallback, and delete guards.
type Registry struct {
	Store    Store
	Defaults Connection
	Logger   *slog.Logger
}

// EnsureDefault seeds the configured default connection when the store is
// empty. The seeded connection is both default and active.
func (r *Registry) EnsureDefault(ctx context.Context) error {
	count, err := r.Store.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := r.Defaults
	seed.IsDefault = true
	seed.IsActive = true
	if err := seed.Validate(); err != nil {
		return fmt.Errorf("default connection: %w", err)
	}
	created, err := r.Store.Create(ctx, seed)
	if err != nil {
		return err
	}
	if r.Logger != nil {
		r.Logger.InfoContext(ctx, "bootstrapped default connection",
			slog.Int64("connection_id", created.ID),
			slog.String("name", created.Name),
		)
	}
	return nil
}

// Resolve returns the connection for an explicit id, or the active
// connection when no id is given. An unknown explicit id fails with
// ErrNotFound; the no-id path bootstraps the default when the store is
// still empty.
func (r *Registry) Resolve(ctx context.Context, id *int64) (Connection, error) {
	if id != nil {
		return r.Store.Get(ctx, *id)
	}

	conn, err := r.Store.Active(ctx)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Connection{}, err
	}
	if err := r.EnsureDefault(ctx); err != nil {
		return Connection{}, err
	}
	return r.Store.Active(ctx)
}

func (r *Registry) List(ctx context.Context) ([]Connection, error) {
	return r.Store.List(ctx)
}

func (r *Registry) Get(ctx context.Context, id int64) (Connection, error) {
	return r.Store.Get(ctx, id)
}

func (r *Registry) Create(ctx context.Context, conn Connection) (Connection, error) {
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	return r.Store.Create(ctx, conn)
}

func (r *Registry) Update(ctx context.Context, conn Connection) (Connection, error) {
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	return r.Store.Update(ctx, conn)
}

func (r *Registry) Activate(ctx context.Context, id int64) error {
	return r.Store.Activate(ctx, id)
}

// Delete refuses to remove the default connection or the only remaining
// one; the pipeline must always have somewhere to run.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	conn, err := r.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if conn.IsDefault {
		return ErrDefaultConnection
	}
	count, err := r.Store.Count(ctx)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastConnection
	}
	return r.Store.Delete(ctx, id)
}
