// Package sqlite keeps one SQLite file per country for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/loykin/extractor/internal/store"
)

// Path returns the database file of country inside dir.
func Path(dir, country string) string {
	return filepath.Join(dir, country+".db")
}

// Opener returns a store.Opener that opens <dir>/<country>.db, creating dir
// when needed.
func Opener(dir string) store.Opener {
	return func(ctx context.Context, country string) (*sql.DB, error) {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		db, err := sql.Open("sqlite", Path(dir, country))
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}
}

func NewExecutor(dir string, opts ...store.ExecutorOption) *store.SQLExecutor {
	return store.NewSQLExecutor(Opener(dir), store.SQLite, opts...)
}
