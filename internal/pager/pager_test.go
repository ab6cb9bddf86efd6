package pager_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/database/dbtest"
	"github.com/saltyorg/dataplow/internal/pager"
)

// sliceDriver serves LIMIT/OFFSET queries from total numbered rows.
func sliceDriver(total int) *dbtest.Fake {
	return &dbtest.Fake{
		QueryFunc: func(query string, args []any) ([]database.Row, error) {
			limit := args[len(args)-2].(int)
			offset := args[len(args)-1].(int)
			var rows []database.Row
			for i := offset; i < total && i < offset+limit; i++ {
				rows = append(rows, database.Row{"n": int64(i)})
			}
			return rows, nil
		},
	}
}

func collect(t *testing.T, p *pager.Pager, size int) []pager.Page {
	t.Helper()
	var pages []pager.Page
	for page, err := range p.Pages(context.Background(), size) {
		require.NoError(t, err)
		pages = append(pages, page)
	}
	return pages
}

func TestPagesCoverEveryRowInOrder(t *testing.T) {
	tests := []struct {
		total, size  int
		wantPages    int
		wantLastSize int
	}{
		{total: 7, size: 3, wantPages: 3, wantLastSize: 1},
		{total: 6, size: 3, wantPages: 2, wantLastSize: 3},
		{total: 1, size: 10, wantPages: 1, wantLastSize: 1},
		{total: 0, size: 5, wantPages: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d rows by %d", tt.total, tt.size), func(t *testing.T) {
			fake := sliceDriver(tt.total)
			pages := collect(t, pager.New(fake, "SELECT n FROM numbers ORDER BY n"), tt.size)

			require.Len(t, pages, tt.wantPages)
			next := int64(0)
			for i, page := range pages {
				assert.Equal(t, i*tt.size, page.Offset)
				assert.Equal(t, tt.size, page.Size)
				for _, row := range page.Rows {
					assert.Equal(t, next, row["n"])
					next++
				}
			}
			assert.Equal(t, int64(tt.total), next)
			if tt.wantPages > 0 {
				assert.Equal(t, tt.wantLastSize, pages[len(pages)-1].Len())
			}

			// One fetch per page plus the empty one that ends the sequence.
			assert.Equal(t, tt.wantPages+1, fake.Counts().Queries)
			assert.Equal(t, tt.wantPages+1, fake.Counts().Closes)
		})
	}
}

func TestPagesIsLazy(t *testing.T) {
	fake := sliceDriver(100)
	p := pager.New(fake, "SELECT n FROM numbers ORDER BY n")

	seq := p.Pages(context.Background(), 10)
	assert.Equal(t, 0, fake.Counts().Queries, "nothing is fetched before iteration")

	for page, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, 10, page.Len())
		break
	}
	assert.Equal(t, 1, fake.Counts().Queries)
	assert.Equal(t, 0, fake.Open())
}

func TestPagesRestartsFromBeginning(t *testing.T) {
	fake := sliceDriver(5)
	p := pager.New(fake, "SELECT n FROM numbers ORDER BY n")

	first := collect(t, p, 2)
	second := collect(t, p, 2)
	assert.Equal(t, first, second)
}

func TestPagesInvalidPageSize(t *testing.T) {
	fake := sliceDriver(5)
	p := pager.New(fake, "SELECT n FROM numbers ORDER BY n")

	for _, size := range []int{0, -1} {
		var errs []error
		for _, err := range p.Pages(context.Background(), size) {
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], pager.ErrInvalidPageSize)
	}
	assert.Equal(t, 0, fake.Counts().Connects)

	_, err := p.Fetch(context.Background(), 0, 0)
	assert.ErrorIs(t, err, pager.ErrInvalidPageSize)
}

func TestOffset(t *testing.T) {
	off, err := pager.Offset(3, 25)
	require.NoError(t, err)
	assert.Equal(t, 75, off)

	_, err = pager.Offset(-1, 25)
	assert.ErrorIs(t, err, pager.ErrInvalidOffset)

	_, err = pager.Offset(math.MaxInt/10+1, 10)
	assert.ErrorIs(t, err, pager.ErrInvalidOffset)

	off, err = pager.Offset(math.MaxInt/10, 10)
	require.NoError(t, err)
	assert.Positive(t, off)

	_, err = pager.Offset(1, 0)
	assert.ErrorIs(t, err, pager.ErrInvalidPageSize)
}

func TestFetchRejectsNegativeOffset(t *testing.T) {
	fake := sliceDriver(5)
	_, err := pager.New(fake, "SELECT n FROM numbers ORDER BY n").Fetch(context.Background(), -10, 2)
	assert.ErrorIs(t, err, pager.ErrInvalidOffset)
	assert.Equal(t, 0, fake.Counts().Connects)
}

func TestPagesYieldsFetchErrorOnce(t *testing.T) {
	boom := errors.New("boom")
	fake := &dbtest.Fake{
		QueryFunc: func(query string, args []any) ([]database.Row, error) {
			if args[len(args)-1].(int) > 0 {
				return nil, boom
			}
			return []database.Row{{"n": int64(0)}, {"n": int64(1)}}, nil
		},
	}

	var pages, errs int
	for _, err := range pager.New(fake, "SELECT n FROM numbers").Pages(context.Background(), 2) {
		if err != nil {
			assert.ErrorIs(t, err, boom)
			errs++
			continue
		}
		pages++
	}
	assert.Equal(t, 1, pages)
	assert.Equal(t, 1, errs)
}

func TestPagesBindsBaseArguments(t *testing.T) {
	var seen []any
	fake := &dbtest.Fake{
		QueryFunc: func(query string, args []any) ([]database.Row, error) {
			seen = args
			assert.Equal(t, "SELECT n FROM numbers WHERE n > ? ORDER BY n LIMIT ? OFFSET ?", query)
			return nil, nil
		},
	}

	_ = collect(t, pager.New(fake, "SELECT n FROM numbers WHERE n > ? ORDER BY n", pager.WithArgs(40)), 25)
	assert.Equal(t, []any{40, 25, 0}, seen)
}

func TestPagesFetchRate(t *testing.T) {
	fake := sliceDriver(4)
	p := pager.New(fake, "SELECT n FROM numbers ORDER BY n", pager.WithFetchRate(20))

	start := time.Now()
	pages := collect(t, p, 1)
	assert.Len(t, pages, 4)
	// Burst of one, then 50ms between each of the remaining four fetches.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestPagesAgainstSQLite(t *testing.T) {
	db := dbtest.Open(t)
	for i := range 5 {
		dbtest.InsertUser(t, db, fmt.Sprintf("u%d", i), fmt.Sprintf("User %d", i), fmt.Sprintf("u%d@example.com", i), float64(20+i))
	}

	p := pager.New(db, "SELECT user_id FROM user_data ORDER BY rowid")
	var ids []string
	for page, err := range p.Pages(context.Background(), 2) {
		require.NoError(t, err)
		for _, row := range page.Rows {
			ids = append(ids, row.String("user_id"))
		}
	}
	assert.Equal(t, []string{"u0", "u1", "u2", "u3", "u4"}, ids)
}
