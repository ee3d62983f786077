package strata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// dbConn is the slice of the pgxpool API the store depends on. pgxmock
// pools satisfy it, so every execution path is testable without a server.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// querier is the statement surface shared by a pooled connection and an
// open transaction, so one execution path serves both scopes.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store owns the connection pool and is the single execution surface for
// all statements. Statements issued on a context carrying an active
// transaction run on that transaction's connection; all others run as
// one-shot autocommit statements on a gated checkout. One Store per
// process lifetime.
type Store struct {
	db     dbConn
	cfg    PoolConfig
	gate   *semaphore.Weighted
	closed atomic.Bool
	log    *zap.SugaredLogger
}

// NewStore connects to the database described by cfg and verifies the
// connection with a ping.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, NewInternalError("parse connection config", err)
	}
	poolCfg.MaxConns = int32(cfg.Pool.MaxConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, NewInternalError("create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, NewQueryError("ping database", err)
	}

	return newStoreWithDB(pool, cfg.Pool), nil
}

// newStoreWithDB wires a store over an existing connection handle. Tests
// inject a pgxmock pool here.
func newStoreWithDB(db dbConn, cfg PoolConfig) *Store {
	return &Store{
		db:   db,
		cfg:  cfg,
		gate: semaphore.NewWeighted(int64(cfg.MaxConnections)),
		log:  zap.S(),
	}
}

// Close marks the store closed and releases the underlying pool. In-flight
// checkouts finish; new acquires fail with PoolClosed.
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.db.Close()
}

// checkout reserves one of the MaxConnections slots, suspending the caller
// until a slot frees or AcquireTimeout elapses. The returned release must
// be called on every exit path.
func (s *Store) checkout(ctx context.Context) (func(), error) {
	if s.closed.Load() {
		return nil, NewPoolClosedError()
	}

	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.AcquireTimeout)
	defer cancel()

	if err := s.gate.Acquire(acquireCtx, 1); err != nil {
		if s.closed.Load() {
			return nil, NewPoolClosedError()
		}
		if ctx.Err() != nil {
			return nil, NewPoolTimeoutError(s.cfg.AcquireTimeout.String()).WithCause(ctx.Err())
		}
		return nil, NewPoolTimeoutError(s.cfg.AcquireTimeout.String())
	}

	if s.closed.Load() {
		s.gate.Release(1)
		return nil, NewPoolClosedError()
	}

	var once sync.Once
	return func() { once.Do(func() { s.gate.Release(1) }) }, nil
}

// scope resolves where a statement runs: the context's active transaction
// connection, or a fresh gated checkout. release is a no-op for the
// transaction scope, whose slot is held from begin to commit/rollback.
func (s *Store) scope(ctx context.Context) (querier, func(), error) {
	if tx, ok := txFrom(ctx); ok {
		if !tx.isActive() {
			return nil, nil, NewTransactionError("transaction is no longer active", nil)
		}
		return tx.rootConn(), func() {}, nil
	}

	release, err := s.checkout(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s.db, release, nil
}

// statementContext bounds a single statement execution.
func (s *Store) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StatementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.StatementTimeout)
}

// Exec runs a statement that returns no rows and reports the number of
// rows affected.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	q, release, err := s.scope(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	execCtx, cancel := s.statementContext(ctx)
	defer cancel()

	started := time.Now()
	tag, err := q.Exec(execCtx, sql, args...)
	if err != nil {
		return 0, mapStatementError("execute statement", execCtx, err)
	}
	s.log.Debugw("executed statement", "rowsAffected", tag.RowsAffected(), "elapsed", time.Since(started))
	return tag.RowsAffected(), nil
}

// Query runs a statement returning rows. The checkout backing the rows is
// released when the rows are closed, so callers (or their row collectors)
// must always close them.
func (s *Store) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q, release, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := s.statementContext(ctx)

	rows, err := q.Query(queryCtx, sql, args...)
	if err != nil {
		cancel()
		release()
		return nil, mapStatementError("query statement", queryCtx, err)
	}

	return &scopedRows{Rows: rows, finish: func() {
		cancel()
		release()
	}}, nil
}

// QueryRow runs a statement expected to return at most one row. The
// checkout is released when Scan is called.
func (s *Store) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q, release, err := s.scope(ctx)
	if err != nil {
		return errRow{err: err}
	}

	queryCtx, cancel := s.statementContext(ctx)
	row := q.QueryRow(queryCtx, sql, args...)
	return &scopedRow{row: row, ctx: queryCtx, finish: func() {
		cancel()
		release()
	}}
}

// mapStatementError converts driver failures into the shared taxonomy. The
// database diagnostic code travels on the error; the raw driver error only
// as the wrapped cause.
func mapStatementError(op string, ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return NewQueryTimeoutError(op+" exceeded statement timeout", err)
	}
	return NewQueryError(op, err)
}

// scopedRows ties checkout release to rows lifetime.
type scopedRows struct {
	pgx.Rows
	finish func()
	once   sync.Once
}

func (r *scopedRows) Close() {
	r.Rows.Close()
	r.once.Do(r.finish)
}

// scopedRow ties checkout release to the single Scan call.
type scopedRow struct {
	row    pgx.Row
	ctx    context.Context
	finish func()
	once   sync.Once
}

func (r *scopedRow) Scan(dest ...any) error {
	defer r.once.Do(r.finish)
	if err := r.row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return mapStatementError("scan row", r.ctx, err)
	}
	return nil
}

// errRow defers a scope-resolution failure to the Scan call, matching the
// pgx QueryRow contract.
type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error {
	return r.err
}
