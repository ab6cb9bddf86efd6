// Package dbtest provides a migrated temporary database and a scripted fake
// driver for tests of the access layers.
package dbtest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saltyorg/dataplow/internal/database"
)

// Open creates a migrated database under t.TempDir and closes it on cleanup.
func Open(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

// InsertUser writes one user_data row directly.
func InsertUser(t testing.TB, db database.Driver, id, name, email string, age float64) {
	t.Helper()

	ctx := context.Background()
	conn, err := db.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(ctx, "INSERT INTO user_data (user_id, name, email, age) VALUES (?, ?, ?, ?)", id, name, email, age)
	require.NoError(t, err)
}

// Counts is a snapshot of the calls made against a Fake.
type Counts struct {
	Connects  int
	Closes    int
	Begins    int
	Commits   int
	Rollbacks int
	Execs     int
	Queries   int
}

// Fake is a scripted in-memory Driver. Every hook is optional.
type Fake struct {
	// ConnectErr is returned by Connect when set.
	ConnectErr error

	// BeginErr, CommitErr, RollbackErr and CloseErr are returned by the
	// matching Conn methods when set.
	BeginErr    error
	CommitErr   error
	RollbackErr error
	CloseErr    error

	// ExecFunc handles Exec. The default affects one row.
	ExecFunc func(query string, args []any) (int64, error)

	// QueryFunc handles Query. The default returns no rows.
	QueryFunc func(query string, args []any) ([]database.Row, error)

	mu     sync.Mutex
	counts Counts
	stmts  []string
	open   int
}

// Counts returns the calls made so far.
func (f *Fake) Counts() Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts
}

// Statements returns every Exec and Query statement in call order.
func (f *Fake) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stmts...)
}

// Open returns the number of sessions acquired and not yet released.
func (f *Fake) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Connect implements database.Driver.
func (f *Fake) Connect(ctx context.Context) (database.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts.Connects++
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	f.open++
	return &fakeConn{f: f}, nil
}

type fakeConn struct {
	f      *Fake
	inTx   bool
	closed bool
}

func (c *fakeConn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.f.mu.Lock()
	c.f.counts.Execs++
	c.f.stmts = append(c.f.stmts, query)
	fn := c.f.ExecFunc
	c.f.mu.Unlock()

	if c.closed {
		return nil, database.ErrConnClosed
	}
	if fn == nil {
		return result(1), nil
	}
	n, err := fn(query, args)
	if err != nil {
		return nil, err
	}
	return result(n), nil
}

func (c *fakeConn) Query(ctx context.Context, query string, args ...any) (database.RowSet, error) {
	c.f.mu.Lock()
	c.f.counts.Queries++
	c.f.stmts = append(c.f.stmts, query)
	fn := c.f.QueryFunc
	c.f.mu.Unlock()

	if c.closed {
		return nil, database.ErrConnClosed
	}
	if fn == nil {
		return NewRowSet(nil, nil), nil
	}
	rows, err := fn(query, args)
	if err != nil {
		return nil, err
	}
	return NewRowSet(nil, rows), nil
}

func (c *fakeConn) Begin(ctx context.Context) error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	c.f.counts.Begins++
	if c.f.BeginErr != nil {
		return c.f.BeginErr
	}
	if c.inTx {
		return database.ErrTransactionActive
	}
	c.inTx = true
	return nil
}

func (c *fakeConn) Commit() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	c.f.counts.Commits++
	if !c.inTx {
		return database.ErrNoTransaction
	}
	c.inTx = false
	return c.f.CommitErr
}

func (c *fakeConn) Rollback() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	c.f.counts.Rollbacks++
	if !c.inTx {
		return database.ErrNoTransaction
	}
	c.inTx = false
	return c.f.RollbackErr
}

func (c *fakeConn) Close() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	c.f.counts.Closes++
	if c.closed {
		return database.ErrConnClosed
	}
	c.closed = true
	c.f.open--
	return c.f.CloseErr
}

type result int64

func (r result) LastInsertId() (int64, error) { return 0, errors.New("not supported") }
func (r result) RowsAffected() (int64, error) { return int64(r), nil }

// RowSet is an in-memory database.RowSet.
type RowSet struct {
	cols   []string
	rows   []database.Row
	pos    int
	closed bool
}

// NewRowSet returns a cursor over rows. cols may be nil.
func NewRowSet(cols []string, rows []database.Row) *RowSet {
	return &RowSet{cols: cols, rows: rows, pos: -1}
}

func (r *RowSet) Next() bool {
	if r.closed || r.pos+1 >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *RowSet) Row() (database.Row, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, errors.New("no current row")
	}
	return r.rows[r.pos], nil
}

func (r *RowSet) Columns() []string { return r.cols }
func (r *RowSet) Err() error        { return nil }

func (r *RowSet) Close() error {
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *RowSet) Closed() bool { return r.closed }
