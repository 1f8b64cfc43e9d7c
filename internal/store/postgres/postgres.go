// Package postgres opens the per-country Postgres databases through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/extractor/internal/store"
)

const DefaultConnectTimeout = 500 * time.Millisecond

// Options describes how a country maps to a database. Database and User
// default to "<country>_db" and "<country>_rw".
type Options struct {
	Host           string
	Port           int
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration
	Database       func(country string) string
	User           func(country string) string
}

func DatabaseName(country string) string { return country + "_db" }
func UserName(country string) string     { return country + "_rw" }

// ConnString renders the connection URL used for country.
func (o Options) ConnString(country string) string {
	dbName, user := o.Database, o.User
	if dbName == nil {
		dbName = DatabaseName
	}
	if user == nil {
		user = UserName
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	ssl := o.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user(country), o.Password),
		Host:     fmt.Sprintf("%s:%d", o.Host, port),
		Path:     "/" + dbName(country),
		RawQuery: url.Values{"sslmode": {ssl}}.Encode(),
	}
	return u.String()
}

// Opener returns a store.Opener creating a fresh pool per call.
func Opener(o Options) store.Opener {
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return func(_ context.Context, country string) (*sql.DB, error) {
		cfg, err := pgx.ParseConfig(o.ConnString(country))
		if err != nil {
			return nil, fmt.Errorf("parse connection config: %w", err)
		}
		cfg.ConnectTimeout = timeout
		db := stdlib.OpenDB(*cfg)
		db.SetMaxOpenConns(1)
		return db, nil
	}
}

// NewExecutor wires Opener into a store.SQLExecutor.
func NewExecutor(o Options, opts ...store.ExecutorOption) *store.SQLExecutor {
	return store.NewSQLExecutor(Opener(o), store.Postgres, opts...)
}
