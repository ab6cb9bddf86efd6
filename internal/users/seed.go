package users

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/retry"
	"github.com/saltyorg/dataplow/internal/scope"
)

// SeedCSV loads users from CSV with a header containing name, email and age
// (any column order). The load is one retried transaction: a malformed row
// rolls back the whole file. Rows whose email already exists are skipped.
// It returns the number of inserted users.
func (r *Repository) SeedCSV(ctx context.Context, src io.Reader) (int, error) {
	records, err := readSeedRecords(src)
	if err != nil {
		return 0, database.Permanent(err)
	}

	inserted, err := retry.WithTransaction(ctx, retry.FromOptions("seed", r.opts), r.drv,
		scope.Named("seed", func(ctx context.Context, conn database.Conn) (int, error) {
			n := 0
			for _, nu := range records {
				res, err := conn.Exec(ctx, `
					INSERT INTO user_data (user_id, name, email, age) VALUES (?, ?, ?, ?)
					ON CONFLICT(email) DO NOTHING
				`, uuid.NewString(), nu.Name, nu.Email, nu.Age)
				if err != nil {
					return 0, err
				}
				affected, err := res.RowsAffected()
				if err != nil {
					return 0, err
				}
				n += int(affected)
			}
			return n, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("failed to seed users: %w", err)
	}

	r.cache.Clear()
	log.Info().Int("rows", len(records)).Int("inserted", inserted).Msg("Seeded users")
	return inserted, nil
}

func readSeedRecords(src io.Reader) ([]NewUser, error) {
	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"name", "email", "age"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", required)
		}
	}

	var out []NewUser
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		age, err := strconv.ParseFloat(strings.TrimSpace(rec[cols["age"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: invalid age %q", line, rec[cols["age"]])
		}
		nu := NewUser{
			Name:  strings.TrimSpace(rec[cols["name"]]),
			Email: strings.TrimSpace(rec[cols["email"]]),
			Age:   age,
		}
		if err := validate(nu); err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, nu)
	}
	return out, nil
}
