package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/orchestrator"
	"github.com/shaiso/taskgraph/internal/shm"
	"github.com/shaiso/taskgraph/internal/worker"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runScan(t *testing.T, root, manifest string) Summary {
	t.Helper()
	reg := worker.NewRegistry()
	Register(reg)

	o := orchestrator.New(orchestrator.Config{
		Workers:  2,
		Registry: reg,
		Launcher: &worker.InProcessLauncher{Registry: reg},
		ShmDir:   t.TempDir(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := o.Run(context.Background(), Tasks(root, manifest)); err != nil {
		t.Fatalf("run: %v", err)
	}

	n, ok := o.Graph().Node(ManifestTask)
	if !ok {
		t.Fatal("manifest task missing")
	}
	return n.Output.(Summary)
}

func TestScan_WritesSortedManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.esp", "bravo")
	writeFile(t, root, "a.esp", "alpha")
	writeFile(t, root, "textures/c.dds", "charlie")

	manifest := filepath.Join(root, "manifest.json")
	summary := runScan(t, root, manifest)

	if summary.Files != 3 || summary.Hashed != 3 || summary.Reused != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	m, err := ReadManifest(manifest)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	want := []string{"a.esp", "b.esp", "textures/c.dds"}
	if len(m.Files) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(m.Files))
	}
	for i, e := range m.Files {
		if e.Path != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], e.Path)
		}
	}
	if got, want := m.Files[0].Hash, fmt.Sprintf("%016x", xxhash.Sum64String("alpha")); got != want {
		t.Errorf("expected hash %s, got %s", want, got)
	}
}

func TestScan_SecondRunReusesHashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.esp", "alpha")
	writeFile(t, root, "b.esp", "bravo")
	manifest := filepath.Join(t.TempDir(), "manifest.json")

	runScan(t, root, manifest)
	first, err := os.ReadFile(manifest)
	if err != nil {
		t.Fatal(err)
	}

	summary := runScan(t, root, manifest)
	if summary.Reused != 2 || summary.Hashed != 0 {
		t.Errorf("expected all hashes reused, got %+v", summary)
	}
	second, _ := os.ReadFile(manifest)
	if !bytes.Equal(first, second) {
		t.Error("manifest must be byte-identical for an unchanged folder")
	}

	// Изменённый файл хэшируется заново
	writeFile(t, root, "b.esp", "bravo, changed")
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(root, "b.esp"), later, later); err != nil {
		t.Fatal(err)
	}

	summary = runScan(t, root, manifest)
	if summary.Reused != 1 || summary.Hashed != 1 {
		t.Errorf("expected one rehash, got %+v", summary)
	}
	m, _ := ReadManifest(manifest)
	if m.Files[1].Hash != fmt.Sprintf("%016x", xxhash.Sum64String("bravo, changed")) {
		t.Errorf("stale hash for b.esp: %s", m.Files[1].Hash)
	}
}

func TestScan_EmptyFolder(t *testing.T) {
	root := t.TempDir()
	manifest := filepath.Join(t.TempDir(), "manifest.json")

	summary := runScan(t, root, manifest)
	if summary.Files != 0 {
		t.Errorf("expected no files, got %+v", summary)
	}
	m, err := ReadManifest(manifest)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if len(m.Files) != 0 {
		t.Errorf("expected empty manifest, got %v", m.Files)
	}
}

func TestHashFile_UsesLookup(t *testing.T) {
	dir := t.TempDir()
	root := t.TempDir()
	writeFile(t, root, "a.esp", "alpha")

	orch := shm.NewExchange(dir, "run", shm.OrchestratorOwner)
	lookup, err := orch.Publish(lookupName, map[string]Entry{
		"a.esp": {Path: "a.esp", Size: 5, ModTime: 42, Hash: "cached"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	ctx := shm.WithExchange(context.Background(), shm.NewExchange(dir, "run", 0))

	tests := []struct {
		name    string
		modTime int64
		reused  bool
	}{
		{"unchanged", 42, true},
		{"touched", 43, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := hashFile(ctx, domain.Input{Param: hashParam{
				Root: root, Rel: "a.esp", Size: 5, ModTime: tt.modTime, Lookup: lookup,
			}})
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			e := v.(Entry)
			if e.Reused != tt.reused {
				t.Errorf("expected reused=%v, got %v", tt.reused, e.Reused)
			}
			if !tt.reused && e.Hash != fmt.Sprintf("%016x", xxhash.Sum64String("alpha")) {
				t.Errorf("unexpected hash %s", e.Hash)
			}
		})
	}
}

func TestWalk_RequiresOwnTask(t *testing.T) {
	_, err := walk(context.Background(), domain.Input{Param: walkParam{Root: t.TempDir()}})
	if err == nil {
		t.Error("expected error outside the orchestrator")
	}
}
