package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (db *DB) Optimize(ctx context.Context) error {
	return db.maintain(ctx, "optimize", "PRAGMA optimize")
}

// Vacuum rebuilds the database file to reclaim unused space.
func (db *DB) Vacuum(ctx context.Context) error {
	return db.maintain(ctx, "vacuum", "VACUUM")
}

func (db *DB) maintain(ctx context.Context, name, stmt string) error {
	if db == nil || db.pool == nil {
		return fmt.Errorf("database not initialized")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	start := time.Now()
	if _, err := db.pool.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to %s database: %w", name, err)
	}

	log.Debug().Str("task", name).Dur("took", time.Since(start)).Msg("Database maintenance complete")
	return nil
}
