// Package composer merges the remote schedule, the query catalog and the
// country timezone into a RunConfig.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/loykin/extractor/internal/datastore"
	"github.com/loykin/extractor/internal/errs"
	"github.com/loykin/extractor/internal/predicate"
)

// DateLayout is the only accepted layout for schedule dates.
const DateLayout = "2006-01-02"

// RunConfig is the resolved schedule of one country.
type RunConfig struct {
	Predicate    string
	Start        time.Time
	End          time.Time
	IntervalDays int
	TimeOfDay    string
	Country      string
	Timezone     string
}

// Location loads the timezone of the config.
func (c RunConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ConfigSource reads the remote schedule and query catalog.
type ConfigSource interface {
	Schedule(ctx context.Context, country string) (datastore.RawSchedule, error)
	Queries(ctx context.Context) (datastore.Entries, error)
}

// TimezoneSource maps a country to an IANA zone name.
type TimezoneSource interface {
	Timezone(ctx context.Context, country string) (string, error)
}

type Composer struct {
	config    ConfigSource
	timezones TimezoneSource
	logger    *slog.Logger
}

func New(config ConfigSource, timezones TimezoneSource, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{config: config, timezones: timezones, logger: logger}
}

// Compose fetches everything country needs and validates it. Nothing is
// cached here; the timezone source may cache on its own.
func (c *Composer) Compose(ctx context.Context, country string) (RunConfig, error) {
	raw, err := c.config.Schedule(ctx, country)
	if err != nil {
		return RunConfig{}, err
	}
	tz, err := c.timezones.Timezone(ctx, country)
	if err != nil {
		return RunConfig{}, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return RunConfig{}, &errs.ConfigError{Country: country, Msg: "invalid timezone " + tz, Err: err}
	}
	queries, err := c.config.Queries(ctx)
	if err != nil {
		return RunConfig{}, err
	}

	text, ok := queries[raw.Query]
	if !ok {
		return RunConfig{}, &errs.ConfigError{Country: country,
			Msg: fmt.Sprintf("query key %q not found, available keys: %s", raw.Query, strings.Join(sortedKeys(queries), ", "))}
	}
	vetted, err := predicate.Vet(text)
	if err != nil {
		return RunConfig{}, &errs.ConfigError{Country: country, Msg: fmt.Sprintf("query %q", raw.Query), Err: err}
	}

	start, err := ParseDate(raw.Start, loc)
	if err != nil {
		return RunConfig{}, &errs.ConfigError{Country: country, Msg: "invalid start date", Err: err}
	}
	end, err := ParseDate(raw.End, loc)
	if err != nil {
		return RunConfig{}, &errs.ConfigError{Country: country, Msg: "invalid end date", Err: err}
	}
	interval, err := ParseInterval(raw.Interval)
	if err != nil {
		return RunConfig{}, &errs.ConfigError{Country: country, Msg: "invalid interval", Err: err}
	}
	tod, err := ParseTimeOfDay(raw.Time)
	if err != nil {
		return RunConfig{}, &errs.ConfigError{Country: country, Msg: "invalid time", Err: err}
	}

	cfg := RunConfig{
		Predicate:    vetted,
		Start:        start,
		End:          end,
		IntervalDays: interval,
		TimeOfDay:    tod,
		Country:      country,
		Timezone:     tz,
	}
	c.logger.Debug("Extractor config composed", "country", country, "timezone", tz,
		"start", raw.Start, "end", raw.End, "interval", interval, "time", tod, "query", raw.Query)
	return cfg, nil
}

// ParseDate parses a strict YYYY-MM-DD date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD", s)
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// ParseInterval parses a non-negative number of days.
func ParseInterval(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("interval %d is negative", n)
	}
	return n, nil
}

// ParseTimeOfDay validates a 24h HH:MM value and returns it normalised.
func ParseTimeOfDay(s string) (string, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("time %q is not HH:MM", s)
	}
	return t.Format("15:04"), nil
}

func sortedKeys(m datastore.Entries) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
