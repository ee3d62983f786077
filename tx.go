package strata

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

// txState is the lifecycle of a transaction handle:
// pending -> active -> committed | rolled back (terminal).
type txState int

const (
	txPending txState = iota
	txActive
	txCommitted
	txRolledBack
)

func (s txState) String() string {
	switch s {
	case txPending:
		return "pending"
	case txActive:
		return "active"
	case txCommitted:
		return "committed"
	case txRolledBack:
		return "rolled back"
	}
	return fmt.Sprintf("txState(%d)", int(s))
}

// Tx is a logical unit of work bound to one physical connection for its
// lifetime. The outermost handle owns the connection and the database-level
// transaction; nested begins stack savepoint children on top of it. A handle
// reaches exactly one terminal state; Commit or Rollback on a finished
// handle is a TransactionError.
type Tx struct {
	store     *Store
	conn      pgx.Tx // root handle only
	release   func() // root handle only, returns the checkout slot
	parent    *Tx
	savepoint string // child handle only
	depth     int

	mu    sync.Mutex
	state txState
}

// txContextKey is the context key for the innermost transaction handle.
type txContextKey struct{}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFrom(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*Tx)
	return tx, ok
}

// InTransaction reports whether ctx carries an active transaction scope.
func InTransaction(ctx context.Context) bool {
	tx, ok := txFrom(ctx)
	return ok && tx.isActive()
}

func (tx *Tx) isActive() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state == txActive
}

// rootConn returns the physical transaction every statement in this chain
// executes on.
func (tx *Tx) rootConn() pgx.Tx {
	root := tx
	for root.parent != nil {
		root = root.parent
	}
	return root.conn
}

// finish moves the handle to a terminal state, enforcing exactly-once.
func (tx *Tx) finish(to txState) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txActive {
		return NewTransactionError(fmt.Sprintf("transaction is %s", tx.state), nil)
	}
	tx.state = to
	return nil
}

// Begin opens a transaction scope. On a context without one it checks out a
// connection and issues a database BEGIN; on a context already inside a
// transaction it stacks a savepoint child instead, so the chain shares one
// physical transaction. The returned context carries the new handle and must
// be used for every statement in the scope.
func (s *Store) Begin(ctx context.Context) (context.Context, *Tx, error) {
	if parent, ok := txFrom(ctx); ok {
		return s.beginSavepoint(ctx, parent)
	}

	release, err := s.checkout(ctx)
	if err != nil {
		return nil, nil, err
	}

	conn, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		release()
		return nil, nil, NewTransactionError("begin transaction", err)
	}

	tx := &Tx{store: s, conn: conn, release: release, state: txActive}
	s.log.Debugw("transaction begun")
	return withTx(ctx, tx), tx, nil
}

func (s *Store) beginSavepoint(ctx context.Context, parent *Tx) (context.Context, *Tx, error) {
	if !parent.isActive() {
		return nil, nil, NewTransactionError("cannot nest into a finished transaction", nil)
	}

	name := fmt.Sprintf("sp_%d", parent.depth+1)
	if _, err := parent.rootConn().Exec(ctx, "SAVEPOINT "+name); err != nil {
		return nil, nil, NewTransactionError("create savepoint "+name, err)
	}

	child := &Tx{
		store:     s,
		parent:    parent,
		savepoint: name,
		depth:     parent.depth + 1,
		state:     txActive,
	}
	s.log.Debugw("savepoint created", "savepoint", name)
	return withTx(ctx, child), child, nil
}

// Commit finishes the unit of work. A savepoint child releases its
// savepoint and stays subject to the outer transaction's fate; only the
// outermost handle issues the physical commit, after which the writes are
// durable and the connection returns to the pool.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.parent != nil {
		if err := tx.finish(txCommitted); err != nil {
			return err
		}
		if _, err := tx.rootConn().Exec(ctx, "RELEASE SAVEPOINT "+tx.savepoint); err != nil {
			tx.mu.Lock()
			tx.state = txRolledBack
			tx.mu.Unlock()
			return NewTransactionError("release savepoint "+tx.savepoint, err)
		}
		tx.store.log.Debugw("savepoint released", "savepoint", tx.savepoint)
		return nil
	}

	if err := tx.finish(txCommitted); err != nil {
		return err
	}
	defer tx.release()

	if err := tx.conn.Commit(ctx); err != nil {
		tx.mu.Lock()
		tx.state = txRolledBack
		tx.mu.Unlock()
		return NewTransactionError("commit transaction", err)
	}
	tx.store.log.Debugw("transaction committed")
	return nil
}

// Rollback discards the unit of work: back to the savepoint for a child,
// the whole transaction for the root. Rollback runs even when the caller's
// context is already cancelled.
func (tx *Tx) Rollback(ctx context.Context) error {
	if err := tx.finish(txRolledBack); err != nil {
		return err
	}

	rbCtx := context.WithoutCancel(ctx)

	if tx.parent != nil {
		if _, err := tx.rootConn().Exec(rbCtx, "ROLLBACK TO SAVEPOINT "+tx.savepoint); err != nil {
			return NewTransactionError("rollback to savepoint "+tx.savepoint, err)
		}
		tx.store.log.Debugw("rolled back to savepoint", "savepoint", tx.savepoint)
		return nil
	}

	defer tx.release()
	if err := tx.conn.Rollback(rbCtx); err != nil {
		return NewTransactionError("rollback transaction", err)
	}
	tx.store.log.Debugw("transaction rolled back")
	return nil
}

// rollbackUnlessFinished is the guaranteed-release discipline: a handle
// abandoned without commit gets rolled back, on any exit path. A
// rollback failure here is logged, not returned, because the triggering
// error is already propagating.
func (tx *Tx) rollbackUnlessFinished(ctx context.Context) {
	if !tx.isActive() {
		return
	}
	if err := tx.Rollback(ctx); err != nil {
		tx.store.log.Warnw("rollback on unwind failed", "error", err)
	}
}

// RunInTx runs fn inside a transaction scope: commit on nil error, rollback
// on error or panic (the panic is re-raised). Nested calls compose through
// savepoints, so an inner failure can be rolled back without aborting the
// outer work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.rollbackUnlessFinished(txCtx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		tx.rollbackUnlessFinished(txCtx)
		return err
	}

	return tx.Commit(txCtx)
}
