package strata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginCommitIssuesPhysicalTransaction(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	txCtx, tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.True(t, InTransaction(txCtx))

	_, err = store.Exec(txCtx, "INSERT INTO tasks (title) VALUES ($1)", "a")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(txCtx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectCommit()

	txCtx, tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(txCtx))

	err = tx.Commit(txCtx)
	require.Error(t, err)
	assert.True(t, IsTransactionError(err))

	err = tx.Rollback(txCtx)
	require.Error(t, err)
	assert.True(t, IsTransactionError(err))
}

func TestStatementsOnFinishedScopeFail(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectRollback()

	txCtx, tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(txCtx))

	_, err = store.Exec(txCtx, "INSERT INTO tasks (title) VALUES ($1)", "a")
	require.Error(t, err)
	assert.True(t, IsTransactionError(err))
}

func TestNestedBeginCreatesSavepoint(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT sp_1`).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`RELEASE SAVEPOINT sp_1`).
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	txCtx, outer, err := store.Begin(ctx)
	require.NoError(t, err)

	innerCtx, inner, err := store.Begin(txCtx)
	require.NoError(t, err)
	require.NoError(t, inner.Commit(innerCtx))

	require.NoError(t, outer.Commit(txCtx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInnerRollbackPreservesOuterWrites(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO projects`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SAVEPOINT sp_1`).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT sp_1`).
		WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectCommit()

	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := store.Exec(txCtx, "INSERT INTO projects (name) VALUES ($1)", "p"); err != nil {
			return err
		}

		inner := store.RunInTx(txCtx, func(spCtx context.Context) error {
			if _, err := store.Exec(spCtx, "INSERT INTO tasks (title) VALUES ($1)", "t"); err != nil {
				return err
			}
			return errors.New("inner step failed")
		})
		require.Error(t, inner)

		// Outer work continues after the savepoint rollback.
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOuterRollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT sp_1`).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`RELEASE SAVEPOINT sp_1`).
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectRollback()

	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if err := store.RunInTx(txCtx, func(spCtx context.Context) error {
			return nil
		}); err != nil {
			return err
		}
		return errors.New("outer decision: abort")
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE tasks`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := store.Exec(txCtx, "UPDATE tasks SET done = $1", true)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("business rule violated")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = store.RunInTx(ctx, func(txCtx context.Context) error {
			panic("boom")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionHoldsCheckoutUntilFinished(t *testing.T) {
	ctx := context.Background()
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	store, mock := newTestStore(t, cfg)

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectExec(`DELETE FROM tasks`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	txCtx, tx, err := store.Begin(ctx)
	require.NoError(t, err)

	// A one-shot statement outside the transaction must wait for the slot
	// and time out while the transaction holds it.
	_, err = store.Exec(ctx, "DELETE FROM tasks")
	require.Error(t, err)
	assert.True(t, IsPoolTimeout(err))

	require.NoError(t, tx.Commit(txCtx))

	_, err = store.Exec(ctx, "DELETE FROM tasks")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFailureIsTransactionError(t *testing.T) {
	ctx := context.Background()
	store, mock := newTestStore(t, testPoolConfig())

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	txCtx, tx, err := store.Begin(ctx)
	require.NoError(t, err)

	err = tx.Commit(txCtx)
	require.Error(t, err)
	assert.True(t, IsTransactionError(err))
}
