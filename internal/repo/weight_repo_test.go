package repo

import (
	"context"
	"errors"
	"os"
	"testing"
)

// Тесты с настоящей БД запускаются только при заданном TASKGRAPH_TEST_DB_URL.
func testPool(t *testing.T) *WeightRepo {
	t.Helper()
	dsn := os.Getenv("TASKGRAPH_TEST_DB_URL")
	if dsn == "" {
		t.Skip("TASKGRAPH_TEST_DB_URL is not set")
	}
	pool, err := NewPool(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	r := NewWeightRepo(pool)
	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return r
}

func TestNewPool_EmptyDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), ""); !errors.Is(err, ErrNoDSN) {
		t.Errorf("expected ErrNoDSN, got %v", err)
	}
}

func TestWeightRepo_SaveLoad(t *testing.T) {
	r := testPool(t)
	ctx := context.Background()

	if err := r.Save(ctx, map[string]float64{"repo.test.a": 1.5, "repo.test.b": 0.25}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := r.Save(ctx, map[string]float64{"repo.test.a": 2}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["repo.test.a"] != 2 || got["repo.test.b"] != 0.25 {
		t.Errorf("unexpected weights: %v", got)
	}
}
