package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/extractor/internal/composer"
	"github.com/loykin/extractor/internal/errs"
	"github.com/loykin/extractor/internal/history"
	"github.com/loykin/extractor/internal/store"
)

type fakeComposer struct {
	cfg composer.RunConfig
	err error
}

func (f *fakeComposer) Compose(context.Context, string) (composer.RunConfig, error) {
	return f.cfg, f.err
}

// fakeStates records every write and keeps the row in memory.
type fakeStates struct {
	state          store.CountryState
	getErr         error
	insertErr      error
	unlockErr      error
	// unlockFailures limits unlockErr to the first n unlocks when > 0.
	unlockFailures int
	rows           int64
	contended      bool

	locks    []string
	unlocks  []string
	executes []string
}

func (f *fakeStates) Get(context.Context, string) (store.CountryState, error) {
	return f.state, f.getErr
}

func (f *fakeStates) Lock(_ context.Context, _ string, lastRun string) (bool, error) {
	if f.contended || f.state.Running {
		return false, nil
	}
	f.locks = append(f.locks, lastRun)
	f.state.LastRun, f.state.Running = lastRun, true
	return true, nil
}

func (f *fakeStates) Unlock(_ context.Context, _ string, lastRun string) error {
	f.unlocks = append(f.unlocks, lastRun)
	if f.unlockErr != nil && (f.unlockFailures == 0 || len(f.unlocks) <= f.unlockFailures) {
		return f.unlockErr
	}
	f.state.LastRun, f.state.Running = lastRun, false
	return nil
}

func (f *fakeStates) InsertTargets(_ context.Context, _ string, p string) (int64, error) {
	f.executes = append(f.executes, p)
	return f.rows, f.insertErr
}

var mexico, _ = time.LoadLocation("America/Mexico_City")

// 2015-12-25 00:00 UTC is 2015-12-24 18:00 in Mexico City.
var now = time.UnixMilli(1451001600000)

func baseConfig() composer.RunConfig {
	return composer.RunConfig{
		Predicate:    "age > 35",
		Start:        time.Date(2000, 1, 1, 0, 0, 0, 0, mexico),
		End:          time.Date(2999, 12, 31, 0, 0, 0, 0, mexico),
		IntervalDays: 7,
		TimeOfDay:    "18:00",
		Country:      "mx",
		Timezone:     "America/Mexico_City",
	}
}

func newExtractor(cfg composer.RunConfig, st *fakeStates, sink history.Sink) *Extractor {
	return New(Deps{
		Composer: &fakeComposer{cfg: cfg},
		States:   st,
		Clock:    func() time.Time { return now },
		History:  sink,
	})
}

func TestInsert_RunsWhenDue(t *testing.T) {
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, rows: 23}
	mem := history.NewMemory(4)
	n, err := newExtractor(baseConfig(), st, mem).Insert(context.Background(), "mx")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 23 {
		t.Fatalf("expected 23 rows, got %d", n)
	}
	if len(st.locks) != 1 || st.locks[0] != "2015-12-24" {
		t.Fatalf("unexpected locks %v", st.locks)
	}
	if len(st.executes) != 1 || st.executes[0] != "age > 35" {
		t.Fatalf("unexpected executes %v", st.executes)
	}
	if len(st.unlocks) != 1 || st.unlocks[0] != "2015-12-24" {
		t.Fatalf("unexpected unlocks %v", st.unlocks)
	}
	if st.state != (store.CountryState{Country: "mx", LastRun: "2015-12-24", Running: false}) {
		t.Fatalf("unexpected final state %+v", st.state)
	}
	ev := mem.Drain()
	if len(ev) != 1 || ev[0].Type != history.EventSucceeded || ev[0].Rows != 23 {
		t.Fatalf("unexpected history %+v", ev)
	}
}

func TestInsert_NotDue(t *testing.T) {
	cases := map[string]struct {
		mutateCfg   func(*composer.RunConfig)
		mutateState func(*store.CountryState)
	}{
		"running":              {mutateState: func(s *store.CountryState) { s.Running = true }},
		"interval not elapsed": {mutateState: func(s *store.CountryState) { s.LastRun = "2015-12-19" }},
		"after end date":       {mutateCfg: func(c *composer.RunConfig) { c.End = time.Date(2015, 12, 23, 0, 0, 0, 0, mexico) }},
		"before start date":    {mutateCfg: func(c *composer.RunConfig) { c.Start = time.Date(2015, 12, 25, 0, 0, 0, 0, mexico) }},
		"one minute early":     {mutateCfg: func(c *composer.RunConfig) { c.TimeOfDay = "18:01" }},
		"invalid last run":     {mutateState: func(s *store.CountryState) { s.LastRun = "yesterday" }},
	}
	for name, tc := range cases {
		cfg := baseConfig()
		state := store.CountryState{Country: "mx", LastRun: "2015-12-17"}
		if tc.mutateCfg != nil {
			tc.mutateCfg(&cfg)
		}
		if tc.mutateState != nil {
			tc.mutateState(&state)
		}
		st := &fakeStates{state: state, rows: 23}
		mem := history.NewMemory(4)
		n, err := newExtractor(cfg, st, mem).Insert(context.Background(), "mx")
		if err != nil || n != 0 {
			t.Fatalf("%s: expected 0, nil; got %d, %v", name, n, err)
		}
		if len(st.locks)+len(st.unlocks)+len(st.executes) != 0 {
			t.Fatalf("%s: expected no writes, got locks=%v unlocks=%v executes=%v", name, st.locks, st.unlocks, st.executes)
		}
		if st.state != state {
			t.Fatalf("%s: state changed to %+v", name, st.state)
		}
		if ev := mem.Drain(); len(ev) != 1 || ev[0].Type != history.EventSkipped {
			t.Fatalf("%s: unexpected history %+v", name, ev)
		}
	}
}

func TestInsert_EdgeDaysAreInclusive(t *testing.T) {
	cfg := baseConfig()
	cfg.Start = time.Date(2015, 12, 24, 0, 0, 0, 0, mexico)
	cfg.End = time.Date(2015, 12, 24, 0, 0, 0, 0, mexico)
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, rows: 5}
	n, err := newExtractor(cfg, st, nil).Insert(context.Background(), "mx")
	if err != nil || n != 5 {
		t.Fatalf("expected run on single-day window, got %d, %v", n, err)
	}
}

func TestInsert_FailureRestoresLastRun(t *testing.T) {
	boom := errors.New("relation does not exist")
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, insertErr: boom}
	mem := history.NewMemory(4)
	n, err := newExtractor(baseConfig(), st, mem).Insert(context.Background(), "mx")
	if !errors.Is(err, boom) || n != 0 {
		t.Fatalf("expected original error, got %d, %v", n, err)
	}
	if len(st.locks) != 1 || len(st.unlocks) != 1 || st.unlocks[0] != "2015-12-17" {
		t.Fatalf("expected lock then restoring unlock, got locks=%v unlocks=%v", st.locks, st.unlocks)
	}
	if st.state.Running || st.state.LastRun != "2015-12-17" {
		t.Fatalf("unexpected final state %+v", st.state)
	}
	ev := mem.Drain()
	if len(ev) != 1 || ev[0].Type != history.EventFailed || ev[0].Error == "" {
		t.Fatalf("unexpected history %+v", ev)
	}
}

func TestInsert_FailedUnlockIsJoined(t *testing.T) {
	boom := errors.New("insert failed")
	unlockErr := &errs.DatabaseError{Op: "execute", Country: "mx", Err: errors.New("connection refused")}
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, insertErr: boom, unlockErr: unlockErr}
	_, err := newExtractor(baseConfig(), st, nil).Insert(context.Background(), "mx")
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error in %v", err)
	}
	var de *errs.DatabaseError
	if !errors.As(err, &de) {
		t.Fatalf("expected unlock error in %v", err)
	}
}

func TestInsert_FailedSuccessUnlockRestoresLastRun(t *testing.T) {
	reset := errors.New("conn reset")
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, rows: 23,
		unlockErr: reset, unlockFailures: 1}
	mem := history.NewMemory(4)
	n, err := newExtractor(baseConfig(), st, mem).Insert(context.Background(), "mx")
	if !errors.Is(err, reset) || n != 0 {
		t.Fatalf("expected unlock error and no rows, got %d, %v", n, err)
	}
	if len(st.unlocks) != 2 || st.unlocks[0] != "2015-12-24" || st.unlocks[1] != "2015-12-17" {
		t.Fatalf("expected success unlock then restoring unlock, got %v", st.unlocks)
	}
	if st.state != (store.CountryState{Country: "mx", LastRun: "2015-12-17", Running: false}) {
		t.Fatalf("expected released state with prior date, got %+v", st.state)
	}
	ev := mem.Drain()
	if len(ev) != 1 || ev[0].Type != history.EventFailed || ev[0].LastRun != "2015-12-17" {
		t.Fatalf("unexpected history %+v", ev)
	}
}

func TestInsert_BothUnlocksFailing(t *testing.T) {
	refused := &errs.DatabaseError{Op: "execute", Country: "mx", Err: errors.New("connection refused")}
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, rows: 23, unlockErr: refused}
	_, err := newExtractor(baseConfig(), st, nil).Insert(context.Background(), "mx")
	var de *errs.DatabaseError
	if !errors.As(err, &de) {
		t.Fatalf("expected database error, got %v", err)
	}
	if len(st.unlocks) != 2 {
		t.Fatalf("expected two unlock attempts, got %v", st.unlocks)
	}
	if !st.state.Running {
		t.Fatalf("fake should still be locked, got %+v", st.state)
	}
}

func TestInsert_NormalizesCountry(t *testing.T) {
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, rows: 3}
	mem := history.NewMemory(4)
	if _, err := newExtractor(baseConfig(), st, mem).Insert(context.Background(), " MX "); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ev := mem.Drain()
	if len(ev) != 1 || ev[0].Country != "mx" {
		t.Fatalf("expected normalized country in history, got %+v", ev)
	}
}

func TestInsert_Contended(t *testing.T) {
	st := &fakeStates{state: store.CountryState{Country: "mx", LastRun: "2015-12-17"}, contended: true, rows: 9}
	mem := history.NewMemory(4)
	n, err := newExtractor(baseConfig(), st, mem).Insert(context.Background(), "mx")
	if err != nil || n != 0 {
		t.Fatalf("expected 0, nil; got %d, %v", n, err)
	}
	if len(st.executes) != 0 || len(st.unlocks) != 0 {
		t.Fatalf("contended run must not execute or unlock")
	}
	if ev := mem.Drain(); len(ev) != 1 || ev[0].Type != history.EventContended {
		t.Fatalf("unexpected history %+v", ev)
	}
}

func TestInsert_ComposeAndStateErrorsPropagate(t *testing.T) {
	cfgErr := &errs.ConfigError{Country: "mx", Msg: "invalid start date"}
	x := New(Deps{Composer: &fakeComposer{err: cfgErr}, States: &fakeStates{}})
	if _, err := x.Insert(context.Background(), "mx"); !errors.Is(err, cfgErr) {
		t.Fatalf("expected config error, got %v", err)
	}

	st := &fakeStates{getErr: &errs.DatabaseError{Op: "get state", Country: "mx", Err: store.ErrStateNotFound}}
	x = New(Deps{Composer: &fakeComposer{cfg: baseConfig()}, States: st})
	if _, err := x.Insert(context.Background(), "mx"); !errors.Is(err, store.ErrStateNotFound) {
		t.Fatalf("expected missing state error, got %v", err)
	}
}

func TestCanRun_TimeOfDayBoundary(t *testing.T) {
	state := store.CountryState{Country: "mx", LastRun: "2015-12-17"}
	cfg := baseConfig()
	if !CanRun(cfg, state, now) {
		t.Fatalf("expected run at exactly 18:00")
	}
	if CanRun(cfg, state, now.Add(-time.Minute)) {
		t.Fatalf("expected no run at 17:59")
	}
	cfg.TimeOfDay = "00:01"
	if !CanRun(cfg, state, now) {
		t.Fatalf("expected run after 00:01")
	}
}

func TestCanRun_IntervalBoundaryIsExclusive(t *testing.T) {
	cfg := baseConfig()
	cfg.TimeOfDay = "00:00"
	state := store.CountryState{Country: "mx", LastRun: "2015-12-17"}
	midnight := time.Date(2015, 12, 24, 0, 0, 0, 0, mexico)
	if CanRun(cfg, state, midnight) {
		t.Fatalf("interval ending exactly now must not count as elapsed")
	}
	if !CanRun(cfg, state, midnight.Add(time.Minute)) {
		t.Fatalf("expected run one minute after the interval ended")
	}
}

func TestCanRun_UsesCountryTimezone(t *testing.T) {
	// 18:00 in Mexico City is already the 25th in Auckland.
	cfg := baseConfig()
	cfg.Timezone = "Pacific/Auckland"
	auckland, _ := time.LoadLocation(cfg.Timezone)
	cfg.End = time.Date(2015, 12, 24, 0, 0, 0, 0, auckland)
	cfg.TimeOfDay = "00:00"
	if CanRun(cfg, store.CountryState{LastRun: "2015-12-17"}, now) {
		t.Fatalf("expected end date to be passed in Auckland")
	}
}
