package scope

import (
	"context"

	"github.com/saltyorg/dataplow/internal/database"
)

// Query runs a read on its own session, outside any transaction, and
// returns every row.
func Query(ctx context.Context, drv database.Driver, query string, args ...any) ([]database.Row, error) {
	return WithConnection(ctx, drv, func(ctx context.Context, conn database.Conn) ([]database.Row, error) {
		rs, err := conn.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return database.CollectRows(rs)
	})
}

// Execute runs a single statement in its own transaction and returns any
// rows it produced. Non-SELECT statements return no rows.
func Execute(ctx context.Context, drv database.Driver, query string, args ...any) ([]database.Row, error) {
	return WithTransaction(ctx, drv, func(ctx context.Context, conn database.Conn) ([]database.Row, error) {
		rs, err := conn.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return database.CollectRows(rs)
	})
}

// Exec runs a single statement in its own transaction and returns the
// number of affected rows.
func Exec(ctx context.Context, drv database.Driver, query string, args ...any) (int64, error) {
	return WithTransaction(ctx, drv, func(ctx context.Context, conn database.Conn) (int64, error) {
		res, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
}
