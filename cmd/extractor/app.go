package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/extractor/internal/composer"
	"github.com/loykin/extractor/internal/config"
	"github.com/loykin/extractor/internal/datastore"
	"github.com/loykin/extractor/internal/extractor"
	historyfactory "github.com/loykin/extractor/internal/history/factory"
	"github.com/loykin/extractor/internal/logger"
	"github.com/loykin/extractor/internal/metrics"
	"github.com/loykin/extractor/internal/store"
	storefactory "github.com/loykin/extractor/internal/store/factory"
	"github.com/loykin/extractor/internal/timezone"
)

// app holds the collaborators built from one configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	repo      *store.Repository
	extractor *extractor.Extractor
	closers   []io.Closer
}

func newApp(configPath string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, logCloser, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Production: cfg.IsProduction(),
		AppID:      cfg.Log.AppID,
		TaskID:     cfg.Log.TaskID,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Stderr:     stderr,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, closers: []io.Closer{logCloser}}

	exec, err := storefactory.NewExecutor(cfg.Database, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.repo = store.NewRepository(exec)

	sink, err := historyfactory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if c, ok := sink.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	if cfg.Metrics.Enabled || cfg.Metrics.PushGateway != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	comp := composer.New(
		datastore.New(datastore.Options{BaseURL: cfg.Datastore.URL, Timeout: cfg.Datastore.Timeout, Logger: log}),
		timezone.New(timezone.Options{
			URL:     cfg.Timezone.URL,
			Timeout: cfg.Timezone.Timeout,
			Cache:   timezone.NewCache(cfg.Timezone.CacheTTL),
			Logger:  log,
		}),
		log,
	)
	a.extractor = extractor.New(extractor.Deps{
		Composer: comp,
		States:   a.repo,
		History:  sink,
		Logger:   log,
	})
	log.Debug("Extractor configured",
		"environment", cfg.Environment,
		"driver", cfg.Database.Driver,
		"history", cfg.History.DSN != "")
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
