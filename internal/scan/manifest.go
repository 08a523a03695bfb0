package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/telemetry"
)

// writeManifest собирает записи scan.file.* и пишет манифест.
//
// Deps: [0] — результат scan.walk, [1] — map имя задачи → Entry.
func writeManifest(ctx context.Context, in domain.Input) (any, error) {
	path, ok := in.Param.(string)
	if !ok {
		return nil, fmt.Errorf("manifest.write: unexpected param %T", in.Param)
	}
	if len(in.Deps) != 2 {
		return nil, fmt.Errorf("manifest.write: expected 2 dependencies, got %d", len(in.Deps))
	}
	walked, _ := in.Deps[0].(walkResult)
	files, _ := in.Deps[1].(map[string]any)

	m := Manifest{Files: make([]Entry, 0, len(files))}
	var summary Summary
	for name, v := range files {
		e, ok := v.(Entry)
		if !ok {
			return nil, fmt.Errorf("manifest.write: task %s returned %T", name, v)
		}
		m.Files = append(m.Files, e)
		if e.Reused {
			summary.Reused++
		} else {
			summary.Hashed++
		}
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	summary.Files = len(m.Files)

	if err := saveManifest(path, &m); err != nil {
		return nil, err
	}

	// Все читатели таблицы завершены, сегмент больше не нужен
	if s, ok := domain.SubmitterFrom(ctx); ok && walked.Lookup != "" {
		if err := s.Release(walked.Lookup); err != nil {
			return nil, fmt.Errorf("release lookup: %w", err)
		}
	}

	telemetry.FromContext(ctx).Info("manifest written",
		"path", path,
		"files", summary.Files,
		"hashed", summary.Hashed,
		"reused", summary.Reused,
	)
	return summary, nil
}

// ReadManifest читает манифест. Отсутствующий файл — пустой манифест.
func ReadManifest(path string) (*Manifest, error) {
	return readManifest(path)
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// saveManifest пишет манифест атомарно: временный файл и rename.
func saveManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
