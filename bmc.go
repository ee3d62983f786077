package strata

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// RowMapper converts a result set into entity values. The default maps
// columns to struct fields by name (db tags honored, extra columns
// ignored).
type RowMapper[T any] func(rows pgx.Rows) ([]T, error)

// Controller implements the five CRUD operations uniformly for one entity
// type, applying the entity's policy before delegating statement
// construction to the builder and execution to the store. Entity-specific
// controllers embed *Controller and shadow any single operation while
// reusing the rest.
//
// Operations run inside the context's active transaction scope when one
// exists, otherwise each executes as its own one-shot autocommit statement.
type Controller[T any] struct {
	policy  EntityPolicy
	builder StatementBuilder
	mapRows RowMapper[T]
	now     func() time.Time
	log     *zap.SugaredLogger
}

// ControllerOption customizes a controller.
type ControllerOption[T any] func(*Controller[T])

// WithBuilder substitutes the statement builder collaborator.
func WithBuilder[T any](b StatementBuilder) ControllerOption[T] {
	return func(c *Controller[T]) { c.builder = b }
}

// WithRowMapper substitutes the row mapping function.
func WithRowMapper[T any](m RowMapper[T]) ControllerOption[T] {
	return func(c *Controller[T]) { c.mapRows = m }
}

// WithClock substitutes the timestamp source.
func WithClock[T any](now func() time.Time) ControllerOption[T] {
	return func(c *Controller[T]) { c.now = now }
}

// NewController builds a controller for the entity described by policy.
func NewController[T any](policy EntityPolicy, opts ...ControllerOption[T]) (*Controller[T], error) {
	if policy.Table == "" {
		return nil, NewValidationError("entity policy requires a table")
	}

	c := &Controller[T]{
		policy:  policy,
		builder: NewPostgresBuilder(),
		now:     time.Now,
		log:     zap.S(),
	}
	c.mapRows = func(rows pgx.Rows) ([]T, error) {
		return pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy returns the entity's policy descriptor.
func (c *Controller[T]) Policy() EntityPolicy {
	return c.policy
}

// wrap stamps entity and operation onto taxonomy errors and shields callers
// from anything else.
func (c *Controller[T]) wrap(err error, op string) error {
	var se *StrataError
	if errors.As(err, &se) {
		if se.Entity == "" {
			se.Entity = c.policy.Table
		}
		if se.Op == "" {
			se.Op = op
		}
		return err
	}
	return NewInternalError(op+" failed", err).WithEntity(c.policy.Table).WithOp(op)
}

func (c *Controller[T]) requestContext(ctx context.Context, op string) (RequestContext, error) {
	rc, ok := RequestContextFrom(ctx)
	if !ok {
		return RequestContext{}, NewPermissionDeniedError("operation requires a request context").
			WithEntity(c.policy.Table).WithOp(op)
	}
	return rc, nil
}

// scopeFilters returns the ownership restriction for read/write access.
// Elevated contexts see everything; everyone else is confined to their own
// rows. A non-elevated context without a user can match nothing.
func (c *Controller[T]) scopeFilters(rc RequestContext) ([]Filter, bool) {
	if !c.policy.HasOwnerID || rc.Elevated() {
		return nil, true
	}
	userID, ok := rc.UserID()
	if !ok {
		return nil, false
	}
	return []Filter{Eq(ColumnOwnerID, userID)}, true
}

// Create inserts a new row, injecting timestamps and ownership per policy,
// and returns the new row's identifier.
func (c *Controller[T]) Create(ctx context.Context, store *Store, payload Payload) (uuid.UUID, error) {
	const op = "create"

	rc, err := c.requestContext(ctx, op)
	if err != nil {
		return uuid.Nil, err
	}

	fields := make(Fields, len(payload.Fields())+4)
	for k, v := range payload.Fields() {
		fields[k] = v
	}

	if c.policy.HasTimestamps {
		now := c.now().UTC()
		fields[ColumnCreatedAt] = now
		fields[ColumnUpdatedAt] = now
	}

	if c.policy.HasOwnerID {
		userID, ok := rc.UserID()
		if !ok {
			return uuid.Nil, NewPermissionDeniedError("owner-scoped entity requires an authenticated user").
				WithEntity(c.policy.Table).WithOp(op)
		}
		fields[ColumnOwnerID] = userID
	}

	idColumn := c.policy.PrimaryKey()
	if _, ok := fields[idColumn]; !ok {
		fields[idColumn] = uuid.Must(uuid.NewV7())
	}

	stmt, err := c.builder.Insert(c.policy.Table, fields, idColumn)
	if err != nil {
		return uuid.Nil, c.wrap(err, op)
	}

	var id uuid.UUID
	if err := store.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&id); err != nil {
		return uuid.Nil, c.wrap(err, op)
	}

	c.log.Debugw("created entity", "entity", c.policy.Table, "id", id)
	return id, nil
}

// Get loads one row by primary key, confined to the caller's own rows for
// owner-scoped entities. Zero matches means NotFound; an ownership mismatch
// is indistinguishable from a missing row.
func (c *Controller[T]) Get(ctx context.Context, store *Store, id uuid.UUID) (T, error) {
	const op = "get"
	var zero T

	rc, err := c.requestContext(ctx, op)
	if err != nil {
		return zero, err
	}

	scope, visible := c.scopeFilters(rc)
	if !visible {
		return zero, NewNotFoundError(c.policy.Table).WithOp(op)
	}

	filters := append([]Filter{Eq(c.policy.PrimaryKey(), id)}, scope...)
	stmt, err := c.builder.Select(c.policy.Table, nil, filters, nil, 0, 0)
	if err != nil {
		return zero, c.wrap(err, op)
	}

	rows, err := store.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return zero, c.wrap(err, op)
	}

	items, err := c.mapRows(rows)
	if err != nil {
		return zero, c.wrap(err, op)
	}
	if len(items) == 0 {
		return zero, NewNotFoundError(c.policy.Table).WithOp(op)
	}
	return items[0], nil
}

// List returns the rows matching the caller's filters conjoined with the
// ownership restriction, in the requested order. Bounds are entirely
// caller-supplied.
func (c *Controller[T]) List(ctx context.Context, store *Store, opts ListOptions) ([]T, error) {
	const op = "list"

	rc, err := c.requestContext(ctx, op)
	if err != nil {
		return nil, err
	}

	scope, visible := c.scopeFilters(rc)
	if !visible {
		return []T{}, nil
	}

	filters := append(append([]Filter{}, scope...), opts.Filters...)
	stmt, err := c.builder.Select(c.policy.Table, nil, filters, opts.OrderBy, opts.Limit, opts.Offset)
	if err != nil {
		return nil, c.wrap(err, op)
	}

	rows, err := store.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, c.wrap(err, op)
	}

	items, err := c.mapRows(rows)
	if err != nil {
		return nil, c.wrap(err, op)
	}
	return items, nil
}

// Update applies a partial update to one row under the same ownership
// restriction as Get, touching updated_at per policy. A restricted row that
// does not exist is NotFound.
func (c *Controller[T]) Update(ctx context.Context, store *Store, id uuid.UUID, payload Payload) error {
	const op = "update"

	rc, err := c.requestContext(ctx, op)
	if err != nil {
		return err
	}

	scope, visible := c.scopeFilters(rc)
	if !visible {
		return NewNotFoundError(c.policy.Table).WithOp(op)
	}

	fields := make(Fields, len(payload.Fields())+1)
	for k, v := range payload.Fields() {
		fields[k] = v
	}
	if c.policy.HasTimestamps {
		fields[ColumnUpdatedAt] = c.now().UTC()
	}

	filters := append([]Filter{Eq(c.policy.PrimaryKey(), id)}, scope...)
	stmt, err := c.builder.Update(c.policy.Table, fields, filters)
	if err != nil {
		return c.wrap(err, op)
	}

	affected, err := store.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return c.wrap(err, op)
	}
	if affected == 0 {
		return NewNotFoundError(c.policy.Table).WithOp(op)
	}

	c.log.Debugw("updated entity", "entity", c.policy.Table, "id", id)
	return nil
}

// Delete removes one row with the same restriction and not-found semantics
// as Update.
func (c *Controller[T]) Delete(ctx context.Context, store *Store, id uuid.UUID) error {
	const op = "delete"

	rc, err := c.requestContext(ctx, op)
	if err != nil {
		return err
	}

	scope, visible := c.scopeFilters(rc)
	if !visible {
		return NewNotFoundError(c.policy.Table).WithOp(op)
	}

	filters := append([]Filter{Eq(c.policy.PrimaryKey(), id)}, scope...)
	stmt, err := c.builder.Delete(c.policy.Table, filters)
	if err != nil {
		return c.wrap(err, op)
	}

	affected, err := store.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return c.wrap(err, op)
	}
	if affected == 0 {
		return NewNotFoundError(c.policy.Table).WithOp(op)
	}

	c.log.Debugw("deleted entity", "entity", c.policy.Table, "id", id)
	return nil
}
