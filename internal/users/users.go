// Package users exposes the user_data table through the resilient access layers.
package users

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/saltyorg/dataplow/internal/aggregate"
	"github.com/saltyorg/dataplow/internal/cache"
	"github.com/saltyorg/dataplow/internal/config"
	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/pager"
	"github.com/saltyorg/dataplow/internal/retry"
	"github.com/saltyorg/dataplow/internal/scope"
)

const (
	selectUsers     = "SELECT user_id, name, email, age FROM user_data ORDER BY rowid"
	selectUserByID  = "SELECT user_id, name, email, age FROM user_data WHERE user_id = ?"
	selectOlderThan = "SELECT user_id, name, email, age FROM user_data WHERE age > ? ORDER BY rowid"
	selectAges      = "SELECT age FROM user_data"
)

// User is one row of user_data.
type User struct {
	ID    string  `json:"user_id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Age   float64 `json:"age"`
}

// NewUser holds the fields for CreateUser.
type NewUser struct {
	Name  string
	Email string
	Age   float64
}

// Repository reads and writes users through the resilient access layers:
// writes are retried transactions, cache-eligible reads go through the
// result cache and never enter a transaction.
type Repository struct {
	drv   database.Driver
	opts  config.Options
	cache *cache.Cache[[]database.Row]
}

// New creates a repository. The cache is owned by the caller and may be
// shared with other repositories.
func New(drv database.Driver, opts config.Options, c *cache.Cache[[]database.Row]) *Repository {
	if c == nil {
		c = cache.New[[]database.Row](cache.WithName("users"))
	}
	return &Repository{drv: drv, opts: opts, cache: c}
}

// Cache returns the result cache used for reads.
func (r *Repository) Cache() *cache.Cache[[]database.Row] {
	return r.cache
}

// ClearCache drops every cached read.
func (r *Repository) ClearCache() {
	r.cache.Clear()
}

// Query runs a read-only query through the result cache. The returned rows
// are shared with other callers; use CloneRows before modifying them.
func (r *Repository) Query(ctx context.Context, query string, args ...any) ([]database.Row, error) {
	return r.cache.CachedQuery(query, args, func() ([]database.Row, error) {
		return retry.Do(ctx, retry.FromOptions("query", r.opts), func(ctx context.Context) ([]database.Row, error) {
			return scope.Query(ctx, r.drv, query, args...)
		})
	})
}

// GetUser returns a user by ID (cached).
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	rows, err := r.Query(ctx, selectUserByID, id)
	if err != nil {
		return User{}, err
	}
	if len(rows) == 0 {
		return User{}, fmt.Errorf("user %s: %w", id, database.ErrNotFound)
	}
	return userFromRow(rows[0])
}

// ListUsers returns every user in insertion order (cached).
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.Query(ctx, selectUsers)
	if err != nil {
		return nil, err
	}
	return usersFromRows(rows)
}

// OlderThan returns users with age above threshold (cached).
func (r *Repository) OlderThan(ctx context.Context, threshold float64) ([]User, error) {
	rows, err := r.Query(ctx, selectOlderThan, threshold)
	if err != nil {
		return nil, err
	}
	return usersFromRows(rows)
}

// CreateUser inserts a user in a retried transaction and clears the cache
// once committed.
func (r *Repository) CreateUser(ctx context.Context, nu NewUser) (User, error) {
	if err := validate(nu); err != nil {
		return User{}, err
	}

	u := User{ID: uuid.NewString(), Name: nu.Name, Email: nu.Email, Age: nu.Age}
	_, err := retry.WithTransaction(ctx, retry.FromOptions("create_user", r.opts), r.drv,
		scope.Named("create_user", func(ctx context.Context, conn database.Conn) (struct{}, error) {
			_, err := conn.Exec(ctx,
				"INSERT INTO user_data (user_id, name, email, age) VALUES (?, ?, ?, ?)",
				u.ID, u.Name, u.Email, u.Age)
			return struct{}{}, err
		}))
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}

	r.cache.Clear()
	log.Debug().Str("user_id", u.ID).Str("email", u.Email).Msg("Created user")
	return u, nil
}

// UpdateEmail changes a user's email in a retried transaction. An unknown
// ID is a permanent failure wrapping database.ErrNotFound.
func (r *Repository) UpdateEmail(ctx context.Context, id, email string) error {
	if strings.TrimSpace(email) == "" {
		return database.Permanent(fmt.Errorf("email must not be empty"))
	}

	_, err := retry.WithTransaction(ctx, retry.FromOptions("update_email", r.opts), r.drv,
		scope.Named("update_email", func(ctx context.Context, conn database.Conn) (int64, error) {
			res, err := conn.Exec(ctx, "UPDATE user_data SET email = ? WHERE user_id = ?", email, id)
			if err != nil {
				return 0, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, err
			}
			if n == 0 {
				return 0, database.Permanent(fmt.Errorf("user %s: %w", id, database.ErrNotFound))
			}
			return n, nil
		}))
	if err != nil {
		return err
	}

	r.cache.Clear()
	log.Debug().Str("user_id", id).Str("email", email).Msg("Updated user email")
	return nil
}

// Pages lazily pages through every user.
func (r *Repository) Pages(ctx context.Context, pageSize int) iter.Seq2[pager.Page, error] {
	p := pager.New(r.drv, selectUsers, pager.WithFetchRate(r.opts.FetchRate))
	return p.Pages(ctx, pageSize)
}

// Page fetches one page (0-based index) of users.
func (r *Repository) Page(ctx context.Context, index, pageSize int) ([]User, error) {
	offset, err := pager.Offset(index, pageSize)
	if err != nil {
		return nil, database.Permanent(err)
	}
	page, err := pager.New(r.drv, selectUsers).Fetch(ctx, offset, pageSize)
	if err != nil {
		return nil, err
	}
	return usersFromRows(page.Rows)
}

// Stream yields users one at a time from a single cursor.
func (r *Repository) Stream(ctx context.Context) iter.Seq2[User, error] {
	rows := aggregate.New(r.drv, selectUsers).Rows(ctx)
	return func(yield func(User, error) bool) {
		for row, err := range rows {
			if err != nil {
				yield(User{}, err)
				return
			}
			u, err := userFromRow(row)
			if !yield(u, err) || err != nil {
				return
			}
		}
	}
}

// AverageAge streams ages and returns their mean.
func (r *Repository) AverageAge(ctx context.Context) (float64, error) {
	return aggregate.New(r.drv, selectAges).AverageOf(ctx, aggregate.Column("age"))
}

// FetchConcurrently loads all users and users older than threshold on two
// independent sessions at the same time.
func (r *Repository) FetchConcurrently(ctx context.Context, threshold float64) (all, older []User, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = r.ListUsers(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		older, err = r.OlderThan(ctx, threshold)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return all, older, nil
}

// CloneRows deep-copies rows returned from the cache so they can be modified.
func CloneRows(rows []database.Row) []database.Row {
	out := make([]database.Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}

func validate(nu NewUser) error {
	switch {
	case strings.TrimSpace(nu.Name) == "":
		return database.Permanent(fmt.Errorf("name must not be empty"))
	case strings.TrimSpace(nu.Email) == "":
		return database.Permanent(fmt.Errorf("email must not be empty"))
	case nu.Age < 0:
		return database.Permanent(fmt.Errorf("age must not be negative, got %g", nu.Age))
	}
	return nil
}

func userFromRow(row database.Row) (User, error) {
	age, err := row.Float64("age")
	if err != nil {
		return User{}, err
	}
	return User{
		ID:    row.String("user_id"),
		Name:  row.String("name"),
		Email: row.String("email"),
		Age:   age,
	}, nil
}

func usersFromRows(rows []database.Row) ([]User, error) {
	out := make([]User, 0, len(rows))
	for _, row := range rows {
		u, err := userFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
