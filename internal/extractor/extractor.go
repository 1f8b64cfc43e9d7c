// Package extractor decides whether the jobseeker extraction of a country is
// due and runs it under the country_state lock.
package extractor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/extractor/internal/composer"
	"github.com/loykin/extractor/internal/history"
	"github.com/loykin/extractor/internal/metrics"
	"github.com/loykin/extractor/internal/store"
)

// Composer resolves the run configuration of a country.
type Composer interface {
	Compose(ctx context.Context, country string) (composer.RunConfig, error)
}

// States is the persisted country_state table plus the target insert.
type States interface {
	Get(ctx context.Context, country string) (store.CountryState, error)
	Lock(ctx context.Context, country, lastRun string) (bool, error)
	Unlock(ctx context.Context, country, lastRun string) error
	InsertTargets(ctx context.Context, country, predicate string) (int64, error)
}

// Deps are the collaborators of an Extractor. Clock, History and Logger are
// optional.
type Deps struct {
	Composer Composer
	States   States
	Clock    func() time.Time
	History  history.Sink
	Logger   *slog.Logger
}

type Extractor struct {
	composer Composer
	states   States
	now      func() time.Time
	history  history.Sink
	logger   *slog.Logger
}

func New(d Deps) *Extractor {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.History == nil {
		d.History = history.Nop{}
	}
	return &Extractor{
		composer: d.Composer,
		states:   d.States,
		now:      d.Clock,
		history:  history.Logged{Sink: d.History, Logger: d.Logger},
		logger:   d.Logger,
	}
}

// Insert runs the extraction for country if it is due and returns the number
// of inserted rows. A run that is not due, or whose lock was taken by another
// invocation, returns 0 and no error. Any failure after the lock releases it
// with the last run date read before locking.
func (x *Extractor) Insert(ctx context.Context, country string) (int64, error) {
	country = store.NormalizeCountry(country)
	cfg, err := x.composer.Compose(ctx, country)
	if err != nil {
		x.record(ctx, history.EventFailed, country, 0, "", err)
		return 0, err
	}
	state, err := x.states.Get(ctx, country)
	if err != nil {
		x.record(ctx, history.EventFailed, country, 0, "", err)
		return 0, err
	}
	loc, err := cfg.Location()
	if err != nil {
		x.record(ctx, history.EventFailed, country, 0, state.LastRun, err)
		return 0, err
	}
	now := x.now().In(loc)

	if reason := skipReason(cfg, state, now); reason != "" {
		x.logger.Info("Extraction not due", "country", country, "reason", reason,
			"lastRun", state.LastRun, "running", state.Running, "now", now.Format(time.DateTime))
		x.record(ctx, history.EventSkipped, country, 0, state.LastRun, nil)
		return 0, nil
	}

	today := now.Format(store.DateLayout)
	locked, err := x.states.Lock(ctx, country, today)
	if err != nil {
		x.record(ctx, history.EventFailed, country, 0, state.LastRun, err)
		return 0, err
	}
	if !locked {
		x.logger.Warn("Extraction lock held by another invocation", "country", country)
		x.record(ctx, history.EventContended, country, 0, state.LastRun, nil)
		return 0, nil
	}
	x.logger.Info("Extraction locked", "country", country, "lastRun", today)
	started := time.Now()

	rows, runErr := x.states.InsertTargets(ctx, country, cfg.Predicate)
	if runErr == nil {
		if runErr = x.states.Unlock(ctx, country, today); runErr == nil {
			metrics.ObserveSuccess(country, rows, time.Since(started), now)
			x.logger.Info("Extraction completed", "country", country, "rows", rows, "lastRun", today)
			x.record(ctx, history.EventSucceeded, country, rows, today, nil)
			return rows, nil
		}
		x.logger.Error("Unlock after extraction failed", "country", country, "rows", rows, "error", runErr)
	}

	// The run did not complete: release the lock with the pre-lock date.
	if err := x.states.Unlock(ctx, country, state.LastRun); err != nil {
		x.logger.Error("Restoring unlock failed", "country", country, "error", err)
		runErr = errors.Join(runErr, err)
	}
	metrics.ObserveFailure(country, time.Since(started))
	x.logger.Error("Extraction failed", "country", country, "restoredLastRun", state.LastRun, "error", runErr)
	x.record(ctx, history.EventFailed, country, 0, state.LastRun, runErr)
	return 0, runErr
}

// CanRun reports whether a run is due for state at now.
func CanRun(cfg composer.RunConfig, state store.CountryState, now time.Time) bool {
	return skipReason(cfg, state, now) == ""
}

// skipReason returns why no run is due, or "" when one is.
func skipReason(cfg composer.RunConfig, state store.CountryState, now time.Time) string {
	if state.Running {
		return "running"
	}
	loc, err := cfg.Location()
	if err != nil {
		return "invalid timezone"
	}
	now = now.In(loc)
	today := midnight(now)
	if today.Before(midnight(cfg.Start.In(loc))) {
		return "before start date"
	}
	if today.After(midnight(cfg.End.In(loc))) {
		return "after end date"
	}
	last, err := time.ParseInLocation(store.DateLayout, state.LastRun, loc)
	if err != nil {
		return "invalid last run date"
	}
	if !last.AddDate(0, 0, cfg.IntervalDays).Before(now) {
		return "interval not elapsed"
	}
	if now.Format("15:04") < cfg.TimeOfDay {
		return "before time of day"
	}
	return ""
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (x *Extractor) record(ctx context.Context, typ history.EventType, country string, rows int64, lastRun string, err error) {
	metrics.ObserveRun(country, string(typ))
	e := history.Event{
		Type:       typ,
		OccurredAt: x.now().UTC(),
		Country:    country,
		Rows:       rows,
		LastRun:    lastRun,
	}
	if err != nil {
		e.Error = err.Error()
	}
	_ = x.history.Send(ctx, e)
}
