package database

import (
	"context"
	"database/sql"
)

// Driver opens store sessions.
type Driver interface {
	// Connect acquires an exclusive session. Failures are *ConnectionError.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is an exclusive handle to one store session. It must not be shared
// between concurrent units of work and is invalid after Close.
//
// While a transaction is open (Begin without Commit/Rollback), Exec and Query
// run inside it.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (RowSet, error)
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
	Close() error
}

// RowSet is a forward-only cursor over query results.
type RowSet interface {
	Next() bool
	Row() (Row, error)
	Columns() []string
	Err() error
	Close() error
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context) (Conn, error)

// Connect calls f(ctx).
func (f DriverFunc) Connect(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// CollectRows drains rs into a slice and closes it.
func CollectRows(rs RowSet) ([]Row, error) {
	defer rs.Close()

	var out []Row
	for rs.Next() {
		row, err := rs.Row()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rs.Err()
}
