// Package scope runs units of work against a store session: WithConnection
// owns the session lifecycle and WithTransaction adds a begin/commit/rollback
// envelope on top of it.
package scope

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/dataplow/internal/database"
)

// UnitOfWork is one logical operation executed on a single session.
type UnitOfWork[T any] func(ctx context.Context, conn database.Conn) (T, error)

// WithConnection acquires a session from drv, runs op on it and releases the
// session exactly once on every exit path, panics included.
//
// A failed acquisition is reported as *database.ConnectionError. A failed
// release is also a *database.ConnectionError; when op itself failed, the
// release error is joined onto op's error so op's error kind still matches.
func WithConnection[T any](ctx context.Context, drv database.Driver, op UnitOfWork[T]) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	conn, err := drv.Connect(ctx)
	if err != nil {
		var connErr *database.ConnectionError
		if errors.As(err, &connErr) {
			return zero, err
		}
		return zero, &database.ConnectionError{Op: "connect", Err: err, Transient: database.IsTransient(err)}
	}

	release := sync.OnceValue(conn.Close)
	defer release()

	result, opErr := op(ctx, conn)

	if err := release(); err != nil {
		relErr := &database.ConnectionError{Op: "release", Err: err}
		if opErr != nil {
			return zero, errors.Join(opErr, relErr)
		}
		return zero, relErr
	}
	if opErr != nil {
		return zero, opErr
	}
	return result, nil
}

// Named wraps op so each run is logged under name with its duration.
func Named[T any](name string, op UnitOfWork[T]) UnitOfWork[T] {
	return func(ctx context.Context, conn database.Conn) (T, error) {
		start := time.Now()
		result, err := op(ctx, conn)
		if err != nil {
			log.Debug().Err(err).Str("unit", name).Dur("took", time.Since(start)).Msg("Unit of work failed")
			return result, err
		}
		log.Trace().Str("unit", name).Dur("took", time.Since(start)).Msg("Unit of work finished")
		return result, nil
	}
}
