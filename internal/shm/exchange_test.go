package shm

import (
	"context"
	"encoding/gob"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type table struct {
	Entries map[string]int
}

func init() {
	gob.Register(table{})
	gob.Register(map[string]int{})
}

func TestPublish_ReadFromAnotherProcessView(t *testing.T) {
	dir := t.TempDir()
	orch := NewExchange(dir, "run1", OrchestratorOwner)
	w := NewExchange(dir, "run1", 0)

	segment, err := orch.Publish("known hashes", table{Entries: map[string]int{"a": 1}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, segment)); err != nil {
		t.Fatalf("segment file missing: %v", err)
	}

	v, err := w.Read(segment)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, ok := v.(table)
	if !ok || got.Entries["a"] != 1 {
		t.Errorf("unexpected value: %#v", v)
	}
}

func TestRead_CacheReturnsSameObject(t *testing.T) {
	dir := t.TempDir()
	orch := NewExchange(dir, "run1", OrchestratorOwner)
	w := NewExchange(dir, "run1", 0)

	segment, err := orch.Publish("lookup", map[string]int{"x": 7})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	first, err := w.Read(segment)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := w.Read(segment)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("reads differ: %v vs %v", first, second)
	}
	// Тот же map, а не копия
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Error("second read must come from the process-local cache")
	}

	// Кэш не переживает освобождение публикации
	if err := orch.Release(segment); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := w.Read(segment); !errors.Is(err, ErrReleased) {
		t.Errorf("cached read after release: expected ErrReleased, got %v", err)
	}
	if _, err := w.Read(segment); !errors.Is(err, ErrReleased) {
		t.Errorf("repeated read after release: expected ErrReleased, got %v", err)
	}
}

func TestRelease_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	orch := NewExchange(dir, "run1", OrchestratorOwner)
	fresh := NewExchange(dir, "run1", 1)

	segment, err := orch.Publish("p", 1)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if err := orch.Pin(segment); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := orch.Release(segment); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}

	orch.Unpin(segment)
	if err := orch.Release(segment); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := orch.Release(segment); !errors.Is(err, ErrReleased) {
		t.Errorf("double release: expected ErrReleased, got %v", err)
	}
	if _, err := orch.Read(segment); !errors.Is(err, ErrReleased) {
		t.Errorf("read after release: expected ErrReleased, got %v", err)
	}
	if _, err := fresh.Read(segment); !errors.Is(err, ErrReleased) {
		t.Errorf("uncached read after release: expected ErrReleased, got %v", err)
	}
	if _, err := orch.Publish("p", 2); !errors.Is(err, ErrDuplicate) {
		t.Errorf("republish: expected ErrDuplicate, got %v", err)
	}
}

func TestReturn_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	orch := NewExchange(dir, "run1", OrchestratorOwner)
	w := NewExchange(dir, "run1", 3)

	ref, err := w.CreateReturn([]string{"big", "result"})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if ref.Owner != 3 {
		t.Errorf("expected owner 3, got %d", ref.Owner)
	}

	v, err := orch.ConsumeReturn(ref)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := v.([]string); len(got) != 2 || got[0] != "big" {
		t.Errorf("unexpected value: %v", v)
	}

	// Оркестратор не владелец — освободить может только воркер
	if err := orch.FreeReturn(ref.Segment); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if w.LiveReturns() != 1 {
		t.Errorf("expected 1 live return, got %d", w.LiveReturns())
	}
	if err := w.FreeReturn(ref.Segment); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := w.FreeReturn(ref.Segment); !errors.Is(err, ErrReleased) {
		t.Errorf("double free: expected ErrReleased, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ref.Segment)); !os.IsNotExist(err) {
		t.Errorf("segment file should be removed, stat err: %v", err)
	}
}

func TestReturn_OwnedByConsumerIsFreedDirectly(t *testing.T) {
	orch := NewExchange(t.TempDir(), "run1", OrchestratorOwner)

	ref, err := orch.CreateReturn(42)
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	v, err := orch.ConsumeReturn(ref)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %v", v)
	}
	if orch.LiveReturns() != 0 {
		t.Errorf("return should be freed, live=%d", orch.LiveReturns())
	}
}

func TestReleaseAll(t *testing.T) {
	dir := t.TempDir()
	orch := NewExchange(dir, "run1", OrchestratorOwner)

	segment, _ := orch.Publish("a", 1)
	_ = orch.Pin(segment)
	if _, err := orch.CreateReturn("r"); err != nil {
		t.Fatalf("create return: %v", err)
	}

	if err := orch.ReleaseAll(); err != nil {
		t.Fatalf("release all: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty dir, got %d entries", len(entries))
	}
	if len(orch.Published()) != 0 {
		t.Errorf("expected no publications, got %v", orch.Published())
	}
}

func TestRead_FromContext(t *testing.T) {
	dir := t.TempDir()
	orch := NewExchange(dir, "run1", OrchestratorOwner)
	segment, _ := orch.Publish("ctx", "value")

	if _, err := Read(context.Background(), segment); !errors.Is(err, ErrNoExchange) {
		t.Errorf("expected ErrNoExchange, got %v", err)
	}

	ctx := WithExchange(context.Background(), NewExchange(dir, "run1", 0))
	v, err := Read(ctx, segment)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != "value" {
		t.Errorf("expected value, got %v", v)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("mods/a b.esp"); got != "mods_a_b.esp" {
		t.Errorf("unexpected sanitized name %q", got)
	}
}
