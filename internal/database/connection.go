package database

import (
	"context"
	"database/sql"
	"errors"
)

// ErrConnClosed is returned by a Conn that has already been released.
var ErrConnClosed = errors.New("connection already released")

// ErrNoTransaction is returned by Commit or Rollback without a prior Begin.
var ErrNoTransaction = errors.New("no transaction in progress")

// ErrTransactionActive is returned by Begin while a transaction is open.
var ErrTransactionActive = errors.New("transaction already in progress")

type sqlConn struct {
	conn   *sql.Conn
	tx     *sql.Tx
	closed bool
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *sqlConn) target() execer {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	res, err := c.target().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err)
	}
	return res, nil
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (RowSet, error) {
	if c.closed {
		return nil, ErrConnClosed
	}
	rows, err := c.target().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, Classify(err)
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

func (c *sqlConn) Begin(ctx context.Context) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx != nil {
		return ErrTransactionActive
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return Classify(err)
	}
	c.tx = tx
	return nil
}

func (c *sqlConn) Commit() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *sqlConn) Rollback() error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx == nil {
		return ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback()
}

// Close releases the session. An open transaction is rolled back first.
func (c *sqlConn) Close() error {
	if c.closed {
		return ErrConnClosed
	}
	c.closed = true

	var rbErr error
	if c.tx != nil {
		rbErr = c.tx.Rollback()
		c.tx = nil
	}
	return errors.Join(rbErr, c.conn.Close())
}

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func (r *sqlRows) Next() bool        { return r.rows.Next() }
func (r *sqlRows) Columns() []string { return r.cols }
func (r *sqlRows) Close() error      { return r.rows.Close() }

func (r *sqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return Classify(err)
	}
	return nil
}

func (r *sqlRows) Row() (Row, error) {
	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, Classify(err)
	}

	row := make(Row, len(r.cols))
	for i, col := range r.cols {
		if b, ok := values[i].([]byte); ok {
			values[i] = string(b)
		}
		row[col] = values[i]
	}
	return row, nil
}
