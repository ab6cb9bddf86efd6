package scope_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/database/dbtest"
	"github.com/saltyorg/dataplow/internal/scope"
)

func TestWithConnectionReleasesOnceOnSuccess(t *testing.T) {
	fake := &dbtest.Fake{}

	got, err := scope.WithConnection(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
		assert.Equal(t, 1, fake.Open())
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	counts := fake.Counts()
	assert.Equal(t, 1, counts.Connects)
	assert.Equal(t, 1, counts.Closes)
	assert.Equal(t, 0, fake.Open())
}

func TestWithConnectionReturnsOperationErrorUnchanged(t *testing.T) {
	fake := &dbtest.Fake{}
	opErr := &database.PermanentOperationError{Err: errors.New("bad query")}

	_, err := scope.WithConnection(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
		return 0, opErr
	})
	require.Error(t, err)
	assert.Same(t, opErr, err)
	assert.Equal(t, 1, fake.Counts().Closes)
}

func TestWithConnectionReleasesOnPanic(t *testing.T) {
	fake := &dbtest.Fake{}

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = scope.WithConnection(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
			panic("boom")
		})
	})
	assert.Equal(t, 1, fake.Counts().Closes)
	assert.Equal(t, 0, fake.Open())
}

func TestWithConnectionConnectFailure(t *testing.T) {
	fake := &dbtest.Fake{ConnectErr: errors.New("refused")}
	called := false

	_, err := scope.WithConnection(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
		called = true
		return 0, nil
	})

	var connErr *database.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "connect", connErr.Op)
	assert.False(t, called)
	assert.Equal(t, 0, fake.Counts().Closes)
}

func TestWithConnectionKeepsDriverConnectionError(t *testing.T) {
	driverErr := &database.ConnectionError{Op: "connect", Err: errors.New("busy"), Transient: true}
	fake := &dbtest.Fake{ConnectErr: driverErr}

	_, err := scope.WithConnection(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
		return 0, nil
	})
	assert.Same(t, driverErr, err)
	assert.True(t, database.IsTransient(err))
}

func TestWithConnectionReleaseFailure(t *testing.T) {
	closeErr := errors.New("close failed")

	t.Run("after success", func(t *testing.T) {
		fake := &dbtest.Fake{CloseErr: closeErr}
		_, err := scope.WithConnection(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
			return 1, nil
		})

		var connErr *database.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "release", connErr.Op)
		assert.ErrorIs(t, err, closeErr)
		assert.Equal(t, 1, fake.Counts().Closes)
	})

	t.Run("after failure", func(t *testing.T) {
		fake := &dbtest.Fake{CloseErr: closeErr}
		opErr := errors.New("op failed")
		_, err := scope.WithConnection(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
			return 0, opErr
		})

		assert.ErrorIs(t, err, opErr)
		assert.ErrorIs(t, err, closeErr)
		assert.Equal(t, 1, fake.Counts().Closes)
	})
}

func TestWithConnectionCanceledContext(t *testing.T) {
	fake := &dbtest.Fake{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scope.WithConnection(ctx, fake, func(ctx context.Context, conn database.Conn) (int, error) {
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fake.Counts().Connects)
}

func TestWithTransactionCommitsOnce(t *testing.T) {
	fake := &dbtest.Fake{}

	got, err := scope.WithTransaction(context.Background(), fake, func(ctx context.Context, conn database.Conn) (string, error) {
		_, err := conn.Exec(ctx, "INSERT INTO t VALUES (1)")
		return "done", err
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	counts := fake.Counts()
	assert.Equal(t, 1, counts.Begins)
	assert.Equal(t, 1, counts.Commits)
	assert.Equal(t, 0, counts.Rollbacks)
	assert.Equal(t, 1, counts.Closes)
}

func TestWithTransactionRollsBackOnce(t *testing.T) {
	fake := &dbtest.Fake{}
	opErr := &database.PermanentOperationError{Err: errors.New("constraint")}

	_, err := scope.WithTransaction(context.Background(), fake, func(ctx context.Context, conn database.Conn) (string, error) {
		return "", opErr
	})
	assert.Same(t, opErr, err)

	counts := fake.Counts()
	assert.Equal(t, 1, counts.Begins)
	assert.Equal(t, 0, counts.Commits)
	assert.Equal(t, 1, counts.Rollbacks)
	assert.Equal(t, 1, counts.Closes)
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	fake := &dbtest.Fake{}

	assert.Panics(t, func() {
		_, _ = scope.WithTransaction(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
			panic("boom")
		})
	})

	counts := fake.Counts()
	assert.Equal(t, 0, counts.Commits)
	assert.Equal(t, 1, counts.Rollbacks)
	assert.Equal(t, 1, counts.Closes)
}

func TestWithTransactionCommitFailure(t *testing.T) {
	fake := &dbtest.Fake{CommitErr: errors.New("disk full")}

	_, err := scope.WithTransaction(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
		return 1, nil
	})

	var txErr *database.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "commit", txErr.Op)
	assert.False(t, database.IsTransient(err))
	assert.Equal(t, 1, fake.Counts().Closes)
}

func TestWithTransactionRollbackFailure(t *testing.T) {
	fake := &dbtest.Fake{RollbackErr: errors.New("io error")}
	opErr := errors.New("op failed")

	_, err := scope.WithTransaction(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
		return 0, opErr
	})

	var txErr *database.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "rollback", txErr.Op)
	assert.ErrorIs(t, err, opErr)
	assert.False(t, database.IsTransient(err))
}

func TestWithTransactionBeginFailureKeepsClassification(t *testing.T) {
	fake := &dbtest.Fake{BeginErr: database.Transient(errors.New("database is locked"))}
	called := false

	_, err := scope.WithTransaction(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
		called = true
		return 0, nil
	})

	assert.ErrorIs(t, err, scope.ErrBegin)
	assert.True(t, database.IsTransient(err))
	assert.False(t, called)
	assert.Equal(t, 1, fake.Counts().Closes)
}

func TestRunTransactionOutcome(t *testing.T) {
	t.Run("committed", func(t *testing.T) {
		out, err := scope.RunTransaction(context.Background(), &dbtest.Fake{}, func(ctx context.Context, conn database.Conn) (int, error) {
			return 7, nil
		})
		require.NoError(t, err)
		assert.True(t, out.Committed)
		assert.Equal(t, 7, out.Result)
		assert.NoError(t, out.Cause)
	})

	t.Run("rolled back", func(t *testing.T) {
		opErr := errors.New("nope")
		out, err := scope.RunTransaction(context.Background(), &dbtest.Fake{}, func(ctx context.Context, conn database.Conn) (int, error) {
			return 0, opErr
		})
		require.NoError(t, err)
		assert.False(t, out.Committed)
		assert.Same(t, opErr, out.Cause)
	})

	t.Run("store failure", func(t *testing.T) {
		fake := &dbtest.Fake{CommitErr: errors.New("disk full")}
		_, err := scope.RunTransaction(context.Background(), fake, func(ctx context.Context, conn database.Conn) (int, error) {
			return 1, nil
		})
		var txErr *database.TransactionError
		assert.ErrorAs(t, err, &txErr)
	})
}

func countUsers(t *testing.T, drv database.Driver) int {
	t.Helper()
	rows, err := scope.Query(context.Background(), drv, "SELECT COUNT(*) AS n FROM user_data")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	n, err := rows[0].Float64("n")
	require.NoError(t, err)
	return int(n)
}

func TestWithTransactionDiscardsWritesOnFailure(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	opErr := &database.PermanentOperationError{Err: errors.New("abort after insert")}
	_, err := scope.WithTransaction(ctx, db, func(ctx context.Context, conn database.Conn) (struct{}, error) {
		if _, err := conn.Exec(ctx, "INSERT INTO user_data (user_id, name, email, age) VALUES ('a', 'Alice', 'alice@example.com', 30)"); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, opErr
	})
	assert.Same(t, opErr, err)
	assert.Equal(t, 0, countUsers(t, db))

	_, err = scope.WithTransaction(ctx, db, func(ctx context.Context, conn database.Conn) (struct{}, error) {
		_, err := conn.Exec(ctx, "INSERT INTO user_data (user_id, name, email, age) VALUES ('a', 'Alice', 'alice@example.com', 30)")
		return struct{}{}, err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countUsers(t, db))
}

func TestExecuteAndExec(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	n, err := scope.Exec(ctx, db, "INSERT INTO user_data (user_id, name, email, age) VALUES (?, ?, ?, ?)", "b", "Bob", "bob@example.com", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := scope.Execute(ctx, db, "SELECT name, age FROM user_data WHERE user_id = ?", "b")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0].String("name"))

	_, err = scope.Exec(ctx, db, "INSERT INTO user_data (user_id, name, email, age) VALUES (?, ?, ?, ?)", "c", "Carl", "bob@example.com", 20)
	require.Error(t, err)
	assert.False(t, database.IsTransient(err), "unique violation must be permanent")
	assert.Equal(t, 1, countUsers(t, db))
}
