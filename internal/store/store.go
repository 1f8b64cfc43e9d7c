package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/extractor/internal/errs"
)

var ErrInvalidCountry = errors.New("invalid country code")

// Row is one result row keyed by column name.
type Row map[string]any

// Result is what a single statement produced. RowCount is the number of
// returned rows for queries and the number of affected rows otherwise.
type Result struct {
	RowCount int64
	Rows     []Row
}

// Dialect captures the few differences between the supported databases.
type Dialect struct {
	Name        string
	placeholder func(n int) string
}

func (d Dialect) Placeholder(n int) string { return d.placeholder(n) }

var (
	Postgres = Dialect{Name: "postgres", placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}
	SQLite   = Dialect{Name: "sqlite", placeholder: func(int) string { return "?" }}
)

// Opener returns a fresh pool for the database of country. The caller owns it.
type Opener func(ctx context.Context, country string) (*sql.DB, error)

// Executor runs one statement against the database of a country. Execute
// decides from the leading keyword whether the statement returns rows; Exec
// always runs it as a write and reports affected rows.
type Executor interface {
	Execute(ctx context.Context, country, query string, args ...any) (Result, error)
	Exec(ctx context.Context, country, query string, args ...any) (Result, error)
	Dialect() Dialect
}

// SQLExecutor opens a pool per call, acquires one connection, runs the
// statement and releases both whatever the outcome.
type SQLExecutor struct {
	open    Opener
	dialect Dialect
	logger  *slog.Logger
}

type ExecutorOption func(*SQLExecutor)

func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *SQLExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewSQLExecutor(open Opener, dialect Dialect, opts ...ExecutorOption) *SQLExecutor {
	e := &SQLExecutor{open: open, dialect: dialect, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *SQLExecutor) Dialect() Dialect { return e.dialect }

func (e *SQLExecutor) Execute(ctx context.Context, country, query string, args ...any) (Result, error) {
	return e.run(ctx, country, query, returnsRows(query), args...)
}

func (e *SQLExecutor) Exec(ctx context.Context, country, query string, args ...any) (Result, error) {
	return e.run(ctx, country, query, false, args...)
}

func (e *SQLExecutor) run(ctx context.Context, country, query string, rows bool, args ...any) (res Result, err error) {
	if !ValidCountry(country) {
		return Result{}, &errs.DatabaseError{Op: "open", Country: country, Err: ErrInvalidCountry}
	}
	db, err := e.open(ctx, country)
	if err != nil {
		return Result{}, &errs.DatabaseError{Op: "open", Country: country, Err: err}
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			e.logger.Warn("Closing pool failed", "country", country, "error", cerr)
		}
	}()

	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, &errs.DatabaseError{Op: "connect", Country: country, Err: err}
	}
	defer func() { _ = conn.Close() }()

	if rows {
		res, err = queryRows(ctx, conn, query, args...)
	} else {
		res, err = execStatement(ctx, conn, query, args...)
	}
	if err != nil {
		return Result{}, &errs.DatabaseError{Op: "execute", Country: country, Err: err}
	}
	e.logger.Debug("SQL executed and connection closed", "country", country, "rowCount", res.RowCount, "sql", query)
	return res, nil
}

func queryRows(ctx context.Context, conn *sql.Conn, query string, args ...any) (Result, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[strings.ToLower(c)] = vals[i]
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return Result{RowCount: int64(len(out)), Rows: out}, nil
}

func execStatement(ctx context.Context, conn *sql.Conn, query string, args ...any) (Result, error) {
	r, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	n, err := r.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	return Result{RowCount: n}, nil
}

func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH") || strings.HasPrefix(q, "VALUES")
}

// NormalizeCountry trims and lower-cases a country code as given by a user.
func NormalizeCountry(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// ValidCountry accepts short lower-case alphanumeric codes. Country codes end
// up in database names, user names and file paths.
func ValidCountry(c string) bool {
	if c == "" || len(c) > 16 {
		return false
	}
	for _, r := range c {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}
