package factory

import (
	"fmt"
	"log/slog"

	"github.com/loykin/extractor/internal/config"
	"github.com/loykin/extractor/internal/store"
	"github.com/loykin/extractor/internal/store/postgres"
	"github.com/loykin/extractor/internal/store/sqlite"
)

// NewExecutor builds the executor for the configured driver.
func NewExecutor(cfg config.DatabaseConfig, logger *slog.Logger) (store.Executor, error) {
	switch cfg.Driver {
	case config.DriverPostgres, "":
		return postgres.NewExecutor(postgres.Options{
			Host:           cfg.Host,
			Port:           cfg.Port,
			Password:       cfg.Password,
			SSLMode:        cfg.SSLMode,
			ConnectTimeout: cfg.ConnectTimeout,
		}, store.WithLogger(logger)), nil
	case config.DriverSQLite:
		return sqlite.NewExecutor(cfg.SQLiteDir, store.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
