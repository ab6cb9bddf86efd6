// Package pager walks a large result set one bounded page at a time.
package pager

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/scope"
)

// ErrInvalidPageSize is returned for a page size below 1.
var ErrInvalidPageSize = errors.New("page size must be positive")

// ErrInvalidOffset is returned for a negative or overflowing page offset.
var ErrInvalidOffset = errors.New("page offset out of range")

// Offset returns the row offset of the 0-based page index, rejecting values
// whose offset would not fit in an int.
func Offset(index, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidPageSize, pageSize)
	}
	if index < 0 || index > math.MaxInt/pageSize {
		return 0, fmt.Errorf("%w: page %d of size %d", ErrInvalidOffset, index, pageSize)
	}
	return index * pageSize, nil
}

// Page is one slice of the result set.
type Page struct {
	Offset int
	Size   int // requested page size; len(Rows) may be smaller
	Rows   []database.Row
}

// Len returns the number of rows in the page.
func (p Page) Len() int { return len(p.Rows) }

// Pager fetches pages of a base query with LIMIT/OFFSET. The base query must
// have a stable ORDER BY for pages to be consistent.
type Pager struct {
	drv     database.Driver
	query   string
	args    []any
	limiter *rate.Limiter
}

// Option configures a Pager.
type Option func(*Pager)

// WithArgs binds parameters for the base query.
func WithArgs(args ...any) Option {
	return func(p *Pager) { p.args = args }
}

// WithFetchRate caps page fetches per second. A rate <= 0 means unlimited.
func WithFetchRate(perSecond float64) Option {
	return func(p *Pager) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// New creates a pager over query.
func New(drv database.Driver, query string, opts ...Option) *Pager {
	p := &Pager{drv: drv, query: query}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch reads a single page on its own session.
func (p *Pager) Fetch(ctx context.Context, offset, limit int) (Page, error) {
	if limit <= 0 {
		return Page{}, fmt.Errorf("%w: got %d", ErrInvalidPageSize, limit)
	}
	if offset < 0 {
		return Page{}, fmt.Errorf("%w: got %d", ErrInvalidOffset, offset)
	}

	query := p.query + " LIMIT ? OFFSET ?"
	args := append(append(make([]any, 0, len(p.args)+2), p.args...), limit, offset)

	rows, err := scope.WithConnection(ctx, p.drv, func(ctx context.Context, conn database.Conn) ([]database.Row, error) {
		rs, err := conn.Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		return database.CollectRows(rs)
	})
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch page at offset %d: %w", offset, err)
	}

	log.Trace().Int("offset", offset).Int("limit", limit).Int("rows", len(rows)).Msg("Fetched page")
	return Page{Offset: offset, Size: limit, Rows: rows}, nil
}

// Pages returns a lazy sequence of pages starting at offset 0.
//
// Nothing is fetched until the consumer pulls, and only the current page is
// held. The sequence ends at the first empty page; a short page is still
// yielded and the following fetch decides. A fetch error is yielded once and
// ends the sequence. Each call starts over from the beginning.
func (p *Pager) Pages(ctx context.Context, pageSize int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if pageSize <= 0 {
			yield(Page{}, fmt.Errorf("%w: got %d", ErrInvalidPageSize, pageSize))
			return
		}

		for offset := 0; ; offset += pageSize {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					yield(Page{}, err)
					return
				}
			}

			page, err := p.Fetch(ctx, offset, pageSize)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if page.Len() == 0 {
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}
