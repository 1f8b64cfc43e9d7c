package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/loykin/extractor/internal/errs"
	"github.com/loykin/extractor/internal/store"
	"github.com/loykin/extractor/internal/store/sqlite"
)

func newRepo(t *testing.T) (*store.Repository, store.Executor) {
	t.Helper()
	exec := sqlite.NewExecutor(t.TempDir())
	repo := store.NewRepository(exec)
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx, "mx"); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := repo.Seed(ctx, "mx", "2015-12-17"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo, exec
}

func TestRepository_GetSeeded(t *testing.T) {
	repo, _ := newRepo(t)
	st, err := repo.Get(context.Background(), "mx")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Country != "mx" || st.LastRun != "2015-12-17" || st.Running {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestRepository_SeedKeepsExistingRow(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	if err := repo.Seed(ctx, "mx", "2020-01-01"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st, _ := repo.Get(ctx, "mx")
	if st.LastRun != "2015-12-17" {
		t.Fatalf("seed overwrote lastrun: %+v", st)
	}
	if err := repo.Seed(ctx, "mx", "not-a-date"); err == nil {
		t.Fatalf("expected invalid seed date to fail")
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx, "it"); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	_, err := repo.Get(ctx, "it")
	if !errors.Is(err, store.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}
	var de *errs.DatabaseError
	if !errors.As(err, &de) || de.Country != "it" {
		t.Fatalf("expected DatabaseError for it, got %v", err)
	}
}

func TestRepository_LockIsExclusive(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	ok, err := repo.Lock(ctx, "mx", "2015-12-24")
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	ok, err = repo.Lock(ctx, "mx", "2015-12-25")
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if ok {
		t.Fatalf("second lock must be contended")
	}
	st, _ := repo.Get(ctx, "mx")
	if !st.Running || st.LastRun != "2015-12-24" {
		t.Fatalf("unexpected locked state %+v", st)
	}

	if err := repo.Unlock(ctx, "mx", "2015-12-17"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	st, _ = repo.Get(ctx, "mx")
	if st.Running || st.LastRun != "2015-12-17" {
		t.Fatalf("unexpected unlocked state %+v", st)
	}
}

func TestRepository_InsertTargetsCountsLiteralKeywords(t *testing.T) {
	repo, exec := newRepo(t)
	ctx := context.Background()
	if _, err := exec.Execute(ctx, "mx", "INSERT INTO jobseeker (id, age, city) VALUES (7, 40, ' returning ')"); err != nil {
		t.Fatalf("insert fixture: %v", err)
	}
	n, err := repo.InsertTargets(ctx, "mx", "city = ' returning '")
	if err != nil {
		t.Fatalf("insert targets: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestRepository_InsertTargets(t *testing.T) {
	repo, exec := newRepo(t)
	ctx := context.Background()
	for _, q := range []string{
		"INSERT INTO jobseeker (id, age, city) VALUES (1, 40, 'roma')",
		"INSERT INTO jobseeker (id, age, city) VALUES (2, 30, 'milano')",
		"INSERT INTO jobseeker (id, age, city) VALUES (3, 50, 'milano')",
	} {
		if _, err := exec.Execute(ctx, "mx", q); err != nil {
			t.Fatalf("insert fixture: %v", err)
		}
	}
	n, err := repo.InsertTargets(ctx, "mx", "age > 35")
	if err != nil {
		t.Fatalf("insert targets: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	res, err := exec.Execute(ctx, "mx", "SELECT id FROM "+store.TargetTable+" ORDER BY id")
	if err != nil {
		t.Fatalf("select targets: %v", err)
	}
	if res.RowCount != 2 || res.Rows[0]["id"] != int64(1) || res.Rows[1]["id"] != int64(3) {
		t.Fatalf("unexpected targets %+v", res.Rows)
	}
}

func TestExecutor_InvalidCountry(t *testing.T) {
	exec := sqlite.NewExecutor(t.TempDir())
	_, err := exec.Execute(context.Background(), "../x", "SELECT 1")
	if !errors.Is(err, store.ErrInvalidCountry) {
		t.Fatalf("expected ErrInvalidCountry, got %v", err)
	}
}

func TestExecutor_BadStatement(t *testing.T) {
	exec := sqlite.NewExecutor(t.TempDir())
	_, err := exec.Execute(context.Background(), "mx", "SELECT * FROM missing_table")
	var de *errs.DatabaseError
	if !errors.As(err, &de) || de.Op != "execute" {
		t.Fatalf("expected execute DatabaseError, got %v", err)
	}
}
