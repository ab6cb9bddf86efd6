package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
)

// LoggingDriver wraps a Driver and logs every statement run on its sessions.
type LoggingDriver struct {
	Driver Driver
}

// WithQueryLogging decorates drv so statements are logged at debug level.
func WithQueryLogging(drv Driver) *LoggingDriver {
	return &LoggingDriver{Driver: drv}
}

func (d *LoggingDriver) Connect(ctx context.Context) (Conn, error) {
	conn, err := d.Driver.Connect(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open database session")
		return nil, err
	}
	log.Trace().Msg("Database session opened")
	return &loggingConn{Conn: conn}, nil
}

type loggingConn struct {
	Conn
}

func (c *loggingConn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := c.Conn.Exec(ctx, query, args...)
	logQuery("exec", query, args, time.Since(start), err)
	return res, err
}

func (c *loggingConn) Query(ctx context.Context, query string, args ...any) (RowSet, error) {
	start := time.Now()
	rs, err := c.Conn.Query(ctx, query, args...)
	logQuery("query", query, args, time.Since(start), err)
	return rs, err
}

func (c *loggingConn) Begin(ctx context.Context) error {
	err := c.Conn.Begin(ctx)
	log.Trace().Err(err).Msg("BEGIN")
	return err
}

func (c *loggingConn) Commit() error {
	err := c.Conn.Commit()
	log.Trace().Err(err).Msg("COMMIT")
	return err
}

func (c *loggingConn) Rollback() error {
	err := c.Conn.Rollback()
	log.Trace().Err(err).Msg("ROLLBACK")
	return err
}

func (c *loggingConn) Close() error {
	err := c.Conn.Close()
	log.Trace().Err(err).Msg("Database session closed")
	return err
}

func logQuery(kind, query string, args []any, took time.Duration, err error) {
	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("kind", kind).
		Str("query", query).
		Interface("args", args).
		Dur("took", took).
		Msg("Executing SQL query")
}
