package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/extractor/internal/errs"
	"github.com/loykin/extractor/internal/predicate"
)

// DateLayout is the layout of CountryState.LastRun.
const DateLayout = "2006-01-02"

// TargetTable receives the ids selected by a predicate.
const TargetTable = "jobseeker_mail_target"

var ErrStateNotFound = errors.New("country state not found")

// CountryState is the per-country row of table country_state.
type CountryState struct {
	Country string
	LastRun string
	Running bool
}

// Repository reads and writes the state and target tables through an Executor.
type Repository struct {
	exec Executor
}

func NewRepository(exec Executor) *Repository {
	return &Repository{exec: exec}
}

func (r *Repository) ph(n int) string { return r.exec.Dialect().Placeholder(n) }

// Get returns the state row of country.
func (r *Repository) Get(ctx context.Context, country string) (CountryState, error) {
	q := "SELECT country, lastrun, running FROM country_state WHERE country = " + r.ph(1)
	res, err := r.exec.Execute(ctx, country, q, country)
	if err != nil {
		return CountryState{}, err
	}
	if len(res.Rows) == 0 {
		return CountryState{}, &errs.DatabaseError{Op: "get state", Country: country, Err: ErrStateNotFound}
	}
	row := res.Rows[0]
	st := CountryState{Country: country}
	if st.LastRun, err = dateValue(row["lastrun"]); err != nil {
		return CountryState{}, &errs.DatabaseError{Op: "get state", Country: country, Err: err}
	}
	if st.Running, err = boolValue(row["running"]); err != nil {
		return CountryState{}, &errs.DatabaseError{Op: "get state", Country: country, Err: err}
	}
	return st, nil
}

// Lock marks country as running with lastRun as its last run date, but only
// if it is not running already. It reports whether this call took the lock.
func (r *Repository) Lock(ctx context.Context, country, lastRun string) (bool, error) {
	q := fmt.Sprintf("UPDATE country_state SET lastrun = %s, running = %s WHERE country = %s AND running = %s",
		r.ph(1), r.ph(2), r.ph(3), r.ph(4))
	res, err := r.exec.Exec(ctx, country, q, lastRun, true, country, false)
	if err != nil {
		return false, err
	}
	return res.RowCount == 1, nil
}

// Unlock clears the running flag and stores lastRun.
func (r *Repository) Unlock(ctx context.Context, country, lastRun string) error {
	q := fmt.Sprintf("UPDATE country_state SET lastrun = %s, running = %s WHERE country = %s",
		r.ph(1), r.ph(2), r.ph(3))
	_, err := r.exec.Exec(ctx, country, q, lastRun, false, country)
	return err
}

// InsertTargets copies the ids matched by an already vetted predicate into
// the target table and returns how many rows were inserted.
func (r *Repository) InsertTargets(ctx context.Context, country, vetted string) (int64, error) {
	q := "INSERT INTO " + TargetTable + " (id) " + predicate.Wrap(vetted)
	res, err := r.exec.Exec(ctx, country, q)
	if err != nil {
		return 0, err
	}
	return res.RowCount, nil
}

// EnsureSchema creates the tables the extractor touches when they are missing.
func (r *Repository) EnsureSchema(ctx context.Context, country string) error {
	dateType := "DATE"
	if r.exec.Dialect().Name == SQLite.Name {
		dateType = "TEXT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS country_state (
			country TEXT PRIMARY KEY,
			lastrun ` + dateType + ` NOT NULL,
			running BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS jobseeker (
			id BIGINT PRIMARY KEY,
			age INTEGER,
			city TEXT,
			lastvisit TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ` + TargetTable + ` (
			id BIGINT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := r.exec.Exec(ctx, country, s); err != nil {
			return err
		}
	}
	return nil
}

// Seed inserts an idle state row for country unless one exists.
func (r *Repository) Seed(ctx context.Context, country, lastRun string) error {
	if _, err := time.Parse(DateLayout, lastRun); err != nil {
		return &errs.DatabaseError{Op: "seed", Country: country, Err: err}
	}
	q := fmt.Sprintf("INSERT INTO country_state (country, lastrun, running) VALUES (%s, %s, %s) ON CONFLICT (country) DO NOTHING",
		r.ph(1), r.ph(2), r.ph(3))
	_, err := r.exec.Exec(ctx, country, q, country, lastRun, false)
	return err
}

// dateValue normalises what the drivers return for a date column.
func dateValue(v any) (string, error) {
	switch d := v.(type) {
	case time.Time:
		return d.Format(DateLayout), nil
	case string:
		return normaliseDate(d)
	case []byte:
		return normaliseDate(string(d))
	case nil:
		return "", errors.New("lastrun is null")
	default:
		return "", fmt.Errorf("unexpected lastrun type %T", v)
	}
}

func normaliseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(DateLayout) {
		if _, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return s[:len(DateLayout)], nil
		}
	}
	return "", fmt.Errorf("invalid lastrun %q", s)
}

func boolValue(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	case string:
		return strconv.ParseBool(b)
	case []byte:
		return strconv.ParseBool(string(b))
	default:
		return false, fmt.Errorf("unexpected running type %T", v)
	}
}
