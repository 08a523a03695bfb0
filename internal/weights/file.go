package weights

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore хранит таблицу в JSON-файле.
type FileStore struct {
	Path string
}

// NewFileStore создаёт FileStore.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load читает таблицу. Отсутствующий файл — пустая таблица без ошибки.
func (s *FileStore) Load(_ context.Context) (map[string]float64, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("read weights: %w", err)
	}

	var weights map[string]float64
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("parse weights %s: %w", s.Path, err)
	}
	return weights, nil
}

// Save пишет таблицу атомарно: временный файл и rename.
func (s *FileStore) Save(_ context.Context, weights map[string]float64) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create weights dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write weights: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync weights: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close weights: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("rename weights: %w", err)
	}
	return nil
}
