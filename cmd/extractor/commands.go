package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/extractor/internal/errs"
	"github.com/loykin/extractor/internal/metrics"
	"github.com/loykin/extractor/internal/server"
	"github.com/loykin/extractor/internal/store"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func createRunCommand(global *GlobalFlags, flags *RunFlags, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction of one country if it is due",
		Long: `Run composes the schedule of the country, checks whether a run is due and,
if so, locks the country, inserts the matching jobseekers into
jobseeker_mail_target and unlocks it. Exits 1 on any error.

Examples:
  extractor run --country=mx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runExtraction(ctx, global.ConfigPath, flags.Country, stderr)
		},
	}
	cmd.Flags().StringVar(&flags.Country, "country", "", "country code (required)")
	if err := cmd.MarkFlagRequired("country"); err != nil {
		panic(err)
	}
	return cmd
}

func runExtraction(ctx context.Context, configPath, country string, stderr io.Writer) error {
	country = store.NormalizeCountry(country)
	a, err := newApp(configPath, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rows, err := a.extractor.Insert(ctx, country)
	if gw := a.cfg.Metrics.PushGateway; gw != "" {
		if perr := metrics.Push(ctx, gw, country); perr != nil {
			a.logger.Warn("Pushing metrics failed", "gateway", gw, "error", perr)
		}
	}
	if err != nil {
		a.logger.Error("Extraction failed", "country", country, "kind", errs.Kind(err), "error", err)
		return err
	}
	a.logger.Info("Extraction finished", "country", country, "rows", rows)
	return nil
}

func createServeCommand(global *GlobalFlags, flags *ServeFlags, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, stub and run endpoints over HTTP",
		Long: `Serve starts the HTTP server: /health, /metrics, the static timezone and
datastore endpoints and POST /api/v1/run/:country.

Examples:
  extractor serve
  extractor serve --listen=127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return serve(ctx, global.ConfigPath, flags.Listen, stderr)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (default from config, :8000)")
	return cmd
}

func serve(ctx context.Context, configPath, listen string, stderr io.Writer) error {
	a, err := newApp(configPath, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if listen == "" {
		listen = a.cfg.Server.Listen
	}
	srv := server.NewServer(listen, server.NewRouter(a.extractor, "", a.logger))
	a.logger.Info("App started", "listen", listen, "tls", a.cfg.Server.CertFile != "")
	if err := server.Serve(ctx, srv, a.cfg.Server.CertFile, a.cfg.Server.KeyFile); err != nil {
		return fmt.Errorf("serve %s: %w", listen, err)
	}
	a.logger.Info("App stopped")
	return nil
}

func createMigrateCommand(global *GlobalFlags, flags *MigrateFlags, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the extractor tables and the idle state row of a country",
		Long: `Migrate creates country_state, jobseeker and jobseeker_mail_target when
missing and inserts the country_state row of the country unless it exists.

Examples:
  extractor migrate --country=mx
  extractor migrate --country=mx --last-run=2015-12-17`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), global.ConfigPath, flags.Country, flags.LastRun, stderr)
		},
	}
	cmd.Flags().StringVar(&flags.Country, "country", "", "country code (required)")
	cmd.Flags().StringVar(&flags.LastRun, "last-run", "", "initial last run date, YYYY-MM-DD (default yesterday)")
	if err := cmd.MarkFlagRequired("country"); err != nil {
		panic(err)
	}
	return cmd
}

func migrate(ctx context.Context, configPath, country, lastRun string, stderr io.Writer) error {
	country = store.NormalizeCountry(country)
	if !store.ValidCountry(country) {
		return fmt.Errorf("%w: %q", store.ErrInvalidCountry, country)
	}
	if lastRun == "" {
		lastRun = time.Now().AddDate(0, 0, -1).Format(store.DateLayout)
	}
	a, err := newApp(configPath, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.repo.EnsureSchema(ctx, country); err != nil {
		return err
	}
	if err := a.repo.Seed(ctx, country, lastRun); err != nil {
		return err
	}
	st, err := a.repo.Get(ctx, country)
	if err != nil {
		return err
	}
	if st.Running {
		a.logger.Warn("Country is locked", "country", country)
	}
	a.logger.Info("Country migrated", "country", country, "lastRun", st.LastRun, "running", st.Running)
	return nil
}
