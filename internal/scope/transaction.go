package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/dataplow/internal/database"
)

// Outcome is the tagged result of RunTransaction: either committed with a
// result, or rolled back with the cause.
type Outcome[T any] struct {
	Committed bool
	Result    T
	Cause     error
}

// WithTransaction runs op inside a transaction on a fresh session.
//
// The transaction commits only if op returns a nil error. Any error from op
// (or a panic) rolls back, and the error is returned as-is, never wrapped or
// converted. A failing commit or rollback is a *database.TransactionError.
func WithTransaction[T any](ctx context.Context, drv database.Driver, op UnitOfWork[T]) (T, error) {
	return WithConnection(ctx, drv, func(ctx context.Context, conn database.Conn) (T, error) {
		return inTransaction(ctx, conn, op)
	})
}

// RunTransaction is WithTransaction returning an Outcome. The error return is
// reserved for store-level failures (session, begin, commit or rollback).
func RunTransaction[T any](ctx context.Context, drv database.Driver, op UnitOfWork[T]) (Outcome[T], error) {
	result, err := WithTransaction(ctx, drv, op)
	if err == nil {
		return Outcome[T]{Committed: true, Result: result}, nil
	}
	if isStoreFailure(err) {
		return Outcome[T]{}, err
	}
	return Outcome[T]{Cause: err}, nil
}

// ErrBegin wraps failures to open a transaction. The underlying error keeps
// its transient/permanent classification.
var ErrBegin = errors.New("failed to begin transaction")

func isStoreFailure(err error) bool {
	var txErr *database.TransactionError
	var connErr *database.ConnectionError
	return errors.As(err, &txErr) || errors.As(err, &connErr) || errors.Is(err, ErrBegin)
}

func inTransaction[T any](ctx context.Context, conn database.Conn, op UnitOfWork[T]) (result T, err error) {
	var zero T

	if err := conn.Begin(ctx); err != nil {
		return zero, fmt.Errorf("%w: %w", ErrBegin, database.Classify(err))
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := conn.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		}
	}()

	result, err = op(ctx, conn)
	if err != nil {
		if rbErr := conn.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).AnErr("cause", err).Msg("Failed to rollback transaction")
			return zero, &database.TransactionError{Op: "rollback", Err: rbErr, Cause: err}
		}
		log.Debug().Err(err).Msg("Transaction rolled back")
		return zero, err
	}

	if err := conn.Commit(); err != nil {
		return zero, &database.TransactionError{Op: "commit", Err: err}
	}
	return result, nil
}
