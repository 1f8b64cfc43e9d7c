package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/extractor/internal/history"
	"github.com/loykin/extractor/internal/store"
	"github.com/loykin/extractor/internal/store/sqlite"
)

func TestInsert_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	exec := sqlite.NewExecutor(t.TempDir())
	repo := store.NewRepository(exec)
	if err := repo.EnsureSchema(ctx, "mx"); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := repo.Seed(ctx, "mx", "2015-12-17"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, q := range []string{
		"INSERT INTO jobseeker (id, age) VALUES (1, 40)",
		"INSERT INTO jobseeker (id, age) VALUES (2, 20)",
		"INSERT INTO jobseeker (id, age) VALUES (3, 36)",
	} {
		if _, err := exec.Execute(ctx, "mx", q); err != nil {
			t.Fatalf("fixture: %v", err)
		}
	}

	mem := history.NewMemory(8)
	clock := now
	x := New(Deps{
		Composer: &fakeComposer{cfg: baseConfig()},
		States:   repo,
		Clock:    func() time.Time { return clock },
		History:  mem,
	})

	n, err := x.Insert(ctx, "mx")
	if err != nil || n != 2 {
		t.Fatalf("first insert: %d, %v", n, err)
	}
	st, err := repo.Get(ctx, "mx")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.LastRun != "2015-12-24" || st.Running {
		t.Fatalf("unexpected state %+v", st)
	}

	// Same day again: interval not elapsed.
	if n, err := x.Insert(ctx, "mx"); err != nil || n != 0 {
		t.Fatalf("second insert: %d, %v", n, err)
	}

	// A failing predicate restores the previous date.
	clock = now.AddDate(0, 0, 8)
	bad := baseConfig()
	bad.Predicate = "no_such_column > 1"
	x.composer = &fakeComposer{cfg: bad}
	if _, err := x.Insert(ctx, "mx"); err == nil {
		t.Fatalf("expected failing insert")
	}
	st, _ = repo.Get(ctx, "mx")
	if st.LastRun != "2015-12-24" || st.Running {
		t.Fatalf("failed run must restore state, got %+v", st)
	}

	types := []history.EventType{}
	for _, e := range mem.Drain() {
		types = append(types, e.Type)
	}
	want := []history.EventType{history.EventSucceeded, history.EventSkipped, history.EventFailed}
	if len(types) != len(want) {
		t.Fatalf("unexpected history %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("unexpected history %v", types)
		}
	}
}
