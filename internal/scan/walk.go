package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/shaiso/taskgraph/internal/domain"
	"github.com/shaiso/taskgraph/internal/telemetry"
)

// walk обходит папку и добавляет задачи хэширования.
func walk(ctx context.Context, in domain.Input) (any, error) {
	p, ok := in.Param.(walkParam)
	if !ok {
		return nil, fmt.Errorf("scan.walk: unexpected param %T", in.Param)
	}
	s, ok := domain.SubmitterFrom(ctx)
	if !ok {
		return nil, errors.New("scan.walk must run as an own task")
	}
	logger := telemetry.FromContext(ctx)

	previous, err := readManifest(p.Manifest)
	if err != nil {
		// Испорченный манифест — просто хэшируем всё заново
		logger.Warn("previous manifest ignored", "path", p.Manifest, "error", err)
		previous = &Manifest{}
	}

	known := make(map[string]Entry, len(previous.Files))
	for _, e := range previous.Files {
		known[e.Path] = e
	}
	lookup, err := s.Publish(lookupName, known)
	if err != nil {
		return nil, fmt.Errorf("publish lookup: %w", err)
	}

	skip, _ := filepath.Abs(p.Manifest)

	var tasks []domain.Task
	err = filepath.WalkDir(p.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == skip {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(p.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		tasks = append(tasks, domain.Task{
			Name: FilePrefix + rel,
			Func: funcHash,
			Param: hashParam{
				Root:    p.Root,
				Rel:     rel,
				Size:    info.Size(),
				ModTime: info.ModTime().UnixNano(),
				Lookup:  lookup,
			},
			Publications: []string{lookup},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", p.Root, err)
	}

	if err := s.SubmitAll(tasks); err != nil {
		return nil, err
	}
	s.ClosePrefix(FilePrefix)

	logger.Info("scan planned", "root", p.Root, "files", len(tasks), "known", len(known))
	return walkResult{Files: len(tasks), Lookup: lookup}, nil
}
