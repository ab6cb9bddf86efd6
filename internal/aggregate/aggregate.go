// Package aggregate computes running aggregates over a row-at-a-time cursor
// without buffering the result set.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/scope"
)

var errStopped = errors.New("consumer stopped")

// Extractor reads the aggregated value from a row.
type Extractor func(row database.Row) (float64, error)

// Column extracts a numeric column by name.
func Column(name string) Extractor {
	return func(row database.Row) (float64, error) {
		return row.Float64(name)
	}
}

// Running is a (sum, count) accumulator.
type Running struct {
	Sum   float64
	Count int64
}

// Add folds one value in.
func (r *Running) Add(v float64) {
	r.Sum += v
	r.Count++
}

// Mean divides once; ok is false when nothing was added.
func (r Running) Mean() (mean float64, ok bool) {
	if r.Count == 0 {
		return 0, false
	}
	return r.Sum / float64(r.Count), true
}

// Aggregator streams the rows of one query.
type Aggregator struct {
	drv   database.Driver
	query string
	args  []any
}

// New creates an aggregator over query.
func New(drv database.Driver, query string, args ...any) *Aggregator {
	return &Aggregator{drv: drv, query: query, args: args}
}

// Rows yields rows one at a time from a single cursor on a dedicated
// session. Stopping early closes the cursor and releases the session. Each
// call opens a new cursor. A failure is yielded once and ends the sequence.
func (a *Aggregator) Rows(ctx context.Context) iter.Seq2[database.Row, error] {
	return func(yield func(database.Row, error) bool) {
		_, err := scope.WithConnection(ctx, a.drv, func(ctx context.Context, conn database.Conn) (struct{}, error) {
			rs, err := conn.Query(ctx, a.query, a.args...)
			if err != nil {
				return struct{}{}, err
			}
			defer rs.Close()

			for rs.Next() {
				row, err := rs.Row()
				if err != nil {
					return struct{}{}, err
				}
				if !yield(row, nil) {
					return struct{}{}, errStopped
				}
			}
			return struct{}{}, rs.Err()
		})
		switch {
		case err == nil:
		case errors.Is(err, errStopped):
			// The consumer is gone; a release failure can only be logged.
			if err != errStopped {
				log.Warn().Err(err).Str("query", a.query).Msg("Failed to release session after early stop")
			}
		default:
			yield(nil, err)
		}
	}
}

// Aggregate folds every row through extract.
func (a *Aggregator) Aggregate(ctx context.Context, extract Extractor) (Running, error) {
	var acc Running
	for row, err := range a.Rows(ctx) {
		if err != nil {
			return Running{}, err
		}
		v, err := extract(row)
		if err != nil {
			return Running{}, fmt.Errorf("failed to extract value from row %d: %w", acc.Count+1, err)
		}
		acc.Add(v)
	}
	return acc, nil
}

// AverageOf returns the mean of extract over every row, in O(1) memory.
// Zero rows is a *database.EmptyDatasetError.
func (a *Aggregator) AverageOf(ctx context.Context, extract Extractor) (float64, error) {
	acc, err := a.Aggregate(ctx, extract)
	if err != nil {
		return 0, err
	}
	mean, ok := acc.Mean()
	if !ok {
		return 0, &database.EmptyDatasetError{Query: a.query}
	}
	return mean, nil
}
